package pipeline

import "testing"

func TestTokenizeCodeFenceTakesPriorityOverHashtag(t *testing.T) {
	blocks := Tokenize("before ```go\nfunc #notAHashtag() {}\n``` after #real")
	var sawFence, sawHashtag bool
	for _, b := range blocks {
		if b.Kind == BlockCodeFence {
			sawFence = true
			if b.Lang != "go" {
				t.Fatalf("expected lang go, got %q", b.Lang)
			}
		}
		if b.Kind == BlockHashtag && b.Text == "real" {
			sawHashtag = true
		}
		if b.Kind == BlockHashtag && b.Text == "notAHashtag" {
			t.Fatal("hashtag pattern should not have run inside the code fence")
		}
	}
	if !sawFence || !sawHashtag {
		t.Fatalf("expected a fence and a hashtag block, got %+v", blocks)
	}
}

func TestTokenizeGroupsConsecutiveImages(t *testing.T) {
	blocks := Tokenize("see https://a.example/one.png https://b.example/two.jpg end")
	var grid *ContentBlock
	for i := range blocks {
		if blocks[i].Kind == BlockMediaGrid {
			grid = &blocks[i]
		}
	}
	if grid == nil || len(grid.URLs) != 2 {
		t.Fatalf("expected a 2-image media grid, got %+v", blocks)
	}
}

func TestTokenizeDecodesNostrEntity(t *testing.T) {
	npub := "npub180cvv07tjdrrgpa0j7j7tmnyl2yr6yr7l8j4s3evf6u64th6gkwsyjh6w6"
	blocks := Tokenize("hey nostr:" + npub + " check this out")
	var found bool
	for _, b := range blocks {
		if b.Kind == BlockNostrEntity {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a nostr entity block, got %+v", blocks)
	}
}

func TestTokenizeCashuToken(t *testing.T) {
	blocks := Tokenize("here is cashuAeyJ0b2tlbiI6W3sibWludCI6Imh0dHBzOi8vbWludC5leGFtcGxl a token")
	var found bool
	for _, b := range blocks {
		if b.Kind == BlockCashuToken {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a cashu token block")
	}
}

func TestShortenEmptyWhenWithinBudget(t *testing.T) {
	blocks := Tokenize("short note")
	shortened, truncated := Shorten(blocks)
	if truncated || shortened != nil {
		t.Fatalf("expected no shortening for short content, got %v truncated=%v", shortened, truncated)
	}
}

func TestShortenTruncatesLongText(t *testing.T) {
	long := make([]byte, 900)
	for i := range long {
		long[i] = 'a'
	}
	blocks := Tokenize(string(long))
	shortened, truncated := Shorten(blocks)
	if !truncated || shortened == nil {
		t.Fatal("expected truncation for content exceeding the text budget")
	}
}

func TestShortenCapsImagesAtOneTailBlock(t *testing.T) {
	blocks := make([]ContentBlock, 0, 5)
	for i := 0; i < 5; i++ {
		blocks = append(blocks, ContentBlock{Kind: BlockImage, URLs: []string{"https://example/img.png"}})
	}
	shortened, truncated := Shorten(blocks)
	if !truncated || shortened == nil {
		t.Fatal("expected truncation for content exceeding the image budget")
	}
	imageBlocks := 0
	for _, b := range shortened {
		if b.Kind == BlockImage || b.Kind == BlockVideo || b.Kind == BlockMediaGrid {
			imageBlocks++
		}
	}
	if imageBlocks != 1 {
		t.Fatalf("expected exactly one tail media block, got %d in %+v", imageBlocks, shortened)
	}
}
