package embedding

import (
	"reflect"
	"testing"
)

func TestSimpleTokenizer_Tokenize(t *testing.T) {
	tok := &SimpleTokenizer{}
	ids, attn := tok.Tokenize("A cat, sleeping", 10)
	if len(ids) != 10 || len(attn) != 10 {
		t.Fatalf("len(ids)=%d len(attn)=%d", len(ids), len(attn))
	}
	if ids[0] != clipStartToken {
		t.Errorf("expected start token, got %d", ids[0])
	}
	// start, a, cat, ",", sleeping, end
	if ids[5] != clipEndToken || attn[5] != 1 {
		t.Errorf("expected end token at 5, got %d (mask %d)", ids[5], attn[5])
	}
	if attn[6] != 0 || ids[6] != clipEndToken {
		t.Errorf("padding: id %d mask %d", ids[6], attn[6])
	}
	for i := 1; i < 5; i++ {
		if ids[i] < 256 || ids[i] >= clipStartToken {
			t.Errorf("word id %d out of range: %d", i, ids[i])
		}
	}

	upper, _ := tok.Tokenize("A CAT, SLEEPING", 10)
	if !reflect.DeepEqual(ids, upper) {
		t.Error("tokenization should be case-insensitive")
	}
}

func TestSimpleTokenizer_truncates(t *testing.T) {
	tok := &SimpleTokenizer{}
	ids, attn := tok.Tokenize("one two three four five six", 4)
	if len(ids) != 4 {
		t.Fatalf("len=%d", len(ids))
	}
	if ids[3] != clipEndToken || attn[3] != 1 {
		t.Errorf("last token should be end, got %d", ids[3])
	}
}

func TestSimpleTokenizer_empty(t *testing.T) {
	ids, attn := (&SimpleTokenizer{}).Tokenize("", 0)
	if len(ids) != DefaultMaxTokens {
		t.Fatalf("len=%d", len(ids))
	}
	if ids[0] != clipStartToken || ids[1] != clipEndToken || attn[1] != 1 || attn[2] != 0 {
		t.Errorf("unexpected framing: %v %v", ids[:3], attn[:3])
	}
}

func TestSplitWords(t *testing.T) {
	words := SplitWords("  a  b  c  ")
	if len(words) != 3 {
		t.Errorf("expected 3 words, got %v", words)
	}
	if SplitWords("") != nil {
		t.Error("empty string should return nil")
	}
	if got := SplitWords("dog's toy!"); !reflect.DeepEqual(got, []string{"dog", "'", "s", "toy", "!"}) {
		t.Errorf("punctuation split: %v", got)
	}
}

func TestHashString(t *testing.T) {
	h := HashString("abc")
	if h == 0 {
		t.Error("hash should be non-zero")
	}
	if HashString("abc") != HashString("abc") {
		t.Error("hash should be deterministic")
	}
	if HashString("a very long string that overflows the accumulator many times over") < 0 {
		t.Error("hash should be non-negative")
	}
}
