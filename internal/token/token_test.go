package token

import "testing"

func TestOfDeterministic(t *testing.T) {
	a, err := Of("read", "DATA", []int64{0, 1, 3})
	if err != nil {
		t.Fatalf("Of failed: %v", err)
	}
	b, err := Of("read", "DATA", []int64{0, 1, 3})
	if err != nil {
		t.Fatalf("Of failed: %v", err)
	}
	if a != b {
		t.Errorf("identical inputs produced different tokens: %q vs %q", a, b)
	}
}

func TestOfDistinguishesInputs(t *testing.T) {
	a, err := Of("read", "DATA", []int64{0, 1, 3})
	if err != nil {
		t.Fatalf("Of failed: %v", err)
	}
	b, err := Of("read", "DATA", []int64{0, 1, 4})
	if err != nil {
		t.Fatalf("Of failed: %v", err)
	}
	if a == b {
		t.Errorf("different inputs produced the same token %q", a)
	}
}

func TestKeyPrefix(t *testing.T) {
	key, err := Key("read-DATA-p0", 1, 2)
	if err != nil {
		t.Fatalf("Key failed: %v", err)
	}
	if len(key) <= len("read-DATA-p0-") || key[:len("read-DATA-p0-")] != "read-DATA-p0-" {
		t.Errorf("unexpected key form %q", key)
	}
}

func TestGroupKeyTypeTagged(t *testing.T) {
	a, err := GroupKey([]any{int64(1)})
	if err != nil {
		t.Fatalf("GroupKey failed: %v", err)
	}
	b, err := GroupKey([]any{"1"})
	if err != nil {
		t.Fatalf("GroupKey failed: %v", err)
	}
	if a == b {
		t.Error("int64(1) and \"1\" encoded to the same group key")
	}
}
