package services

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Property: hasMorePages is true exactly when messages remain beyond the page
func TestProperty_HasMorePages(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("has_more_iff_messages_remain", prop.ForAll(
		func(page, limit, total int) bool {
			got := hasMorePages(page, limit, total)
			want := (page-1)*limit+limit < total
			return got == want
		},
		gen.IntRange(1, 100),
		gen.IntRange(1, 50),
		gen.IntRange(0, 5000),
	))

	properties.Property("last_page_has_no_more", prop.ForAll(
		func(limit, total int) bool {
			if total == 0 {
				return !hasMorePages(1, limit, total)
			}
			lastPage := (total + limit - 1) / limit
			return !hasMorePages(lastPage, limit, total)
		},
		gen.IntRange(1, 50),
		gen.IntRange(0, 5000),
	))

	properties.TestingRun(t)
}

// Property: the IMAP sequence window always stays within [1, total], never
// exceeds the page size, and page 1 ends at the newest message
func TestProperty_IMAPSeqWindow(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("window_within_mailbox", prop.ForAll(
		func(total, page, limit int) bool {
			from, to := computeSeqWindow(total, page, limit)
			if from < 1 || to < 1 {
				return false
			}
			if from > to {
				return false
			}
			if int(to) > total {
				return false
			}
			return int(to-from)+1 <= limit
		},
		gen.IntRange(1, 10000),
		gen.IntRange(1, 100),
		gen.IntRange(1, 50),
	))

	properties.Property("first_page_ends_at_newest", prop.ForAll(
		func(total, limit int) bool {
			_, to := computeSeqWindow(total, 1, limit)
			return int(to) == total
		},
		gen.IntRange(1, 10000),
		gen.IntRange(1, 50),
	))

	properties.Property("consecutive_pages_are_adjacent", prop.ForAll(
		func(total, page, limit int) bool {
			// Only pages fully inside the mailbox have an adjacent successor
			if page*limit+limit > total {
				return true
			}
			from1, _ := computeSeqWindow(total, page, limit)
			_, to2 := computeSeqWindow(total, page+1, limit)
			return to2+1 == from1
		},
		gen.IntRange(1, 10000),
		gen.IntRange(1, 50),
		gen.IntRange(1, 50),
	))

	properties.TestingRun(t)
}

// Property: the POP3 range covers exactly the requested page and hasMore
// matches whether the range stops short of the mailbox end
func TestProperty_POP3Range(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("range_matches_page", prop.ForAll(
		func(total, page, limit int) bool {
			start, end, hasMore := computePOP3Range(total, page, limit)
			if start != (page-1)*limit+1 {
				return false
			}
			if end > total && page == 1 && limit <= total {
				return false
			}
			if end-start+1 > limit {
				return false
			}
			return hasMore == (end < total)
		},
		gen.IntRange(1, 10000),
		gen.IntRange(1, 100),
		gen.IntRange(1, 50),
	))

	properties.Property("full_walk_visits_every_message_once", prop.ForAll(
		func(total, limit int) bool {
			seen := 0
			for page := 1; ; page++ {
				start, end, hasMore := computePOP3Range(total, page, limit)
				if start > total {
					break
				}
				seen += end - start + 1
				if !hasMore {
					break
				}
			}
			return seen == total
		},
		gen.IntRange(1, 500),
		gen.IntRange(1, 50),
	))

	properties.TestingRun(t)
}

func TestNormalizePageDefaults(t *testing.T) {
	cases := []struct {
		page, limit         int
		wantPage, wantLimit int
	}{
		{0, 0, 1, 20},
		{-3, -1, 1, 20},
		{2, 25, 2, 25},
		{1, 500, 1, 100},
	}
	for _, tc := range cases {
		page, limit := normalizePage(tc.page, tc.limit)
		if page != tc.wantPage || limit != tc.wantLimit {
			t.Errorf("normalizePage(%d, %d) = (%d, %d), want (%d, %d)",
				tc.page, tc.limit, page, limit, tc.wantPage, tc.wantLimit)
		}
	}
}

func TestAddressListRoundtrip(t *testing.T) {
	addrs := []string{"a@example.com", "Bob <b@example.com>"}
	encoded := encodeAddressList(addrs)
	decoded := decodeAddressList(encoded)
	if len(decoded) != 2 || decoded[0] != addrs[0] || decoded[1] != addrs[1] {
		t.Errorf("roundtrip = %v, want %v", decoded, addrs)
	}

	if encodeAddressList(nil) != "[]" {
		t.Errorf("empty list should encode as []")
	}
	if decodeAddressList("not json") != nil {
		t.Errorf("garbage should decode as nil")
	}
}
