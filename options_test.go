package tablepress_test

import (
	"errors"
	"testing"

	"github.com/plotforge/tablepress"
	tperrors "github.com/plotforge/tablepress/errors"
)

// validTestData builds a layout that passes validation at the test geometry.
func validTestData() *tablepress.TableData {
	counts := []uint32{16, 16, 16, 16}
	td := &tablepress.TableData{XBucketCounts: counts}
	td.EntryCounts[tablepress.Table1] = 64
	for t := tablepress.Table2; t <= tablepress.Table7; t++ {
		td.PairBucketCounts[t] = counts
		td.EntryCounts[t] = 64
	}
	return td
}

func TestNewPhaseRejectsBadConfig(t *testing.T) {
	base := []tablepress.Option{
		tablepress.WithEntryBits(8),
		tablepress.WithBuckets(4),
		tablepress.WithLPBuckets(4),
		tablepress.WithExtraL(4),
		tablepress.WithWorkers(2),
	}

	cases := []struct {
		name string
		opt  tablepress.Option
		want error
	}{
		{"buckets not pow2", tablepress.WithBuckets(3), tperrors.ErrBucketCountNotPow2},
		{"buckets too many for K", tablepress.WithBuckets(1 << 10), tperrors.ErrBucketCountNotPow2},
		{"lp buckets not pow2", tablepress.WithLPBuckets(5), tperrors.ErrLPBucketCountNotPow2},
		{"entry bits zero", tablepress.WithEntryBits(0), tperrors.ErrEntryWidthTooLarge},
		{"entry bits too wide", tablepress.WithEntryBits(33), tperrors.ErrEntryWidthTooLarge},
		{"zero overshoot", tablepress.WithExtraL(0), tperrors.ErrExtraLTooSmall},
		{"zero workers", tablepress.WithWorkers(0), tperrors.ErrNoWorkers},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			opts := append(append([]tablepress.Option{}, base...), tc.opt)
			_, err := tablepress.NewPhase(nil, validTestData(), opts...)
			if !errors.Is(err, tc.want) {
				t.Errorf("NewPhase = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestNewPhaseRejectsBadLayout(t *testing.T) {
	opts := []tablepress.Option{
		tablepress.WithEntryBits(8),
		tablepress.WithBuckets(4),
		tablepress.WithLPBuckets(4),
		tablepress.WithExtraL(4),
		tablepress.WithWorkers(2),
	}

	t.Run("x counts wrong length", func(t *testing.T) {
		td := validTestData()
		td.XBucketCounts = []uint32{64}
		if _, err := tablepress.NewPhase(nil, td, opts...); !errors.Is(err, tperrors.ErrCountMismatch) {
			t.Errorf("NewPhase = %v, want ErrCountMismatch", err)
		}
	})

	t.Run("entry count disagrees with buckets", func(t *testing.T) {
		td := validTestData()
		td.EntryCounts[tablepress.Table4] = 63
		if _, err := tablepress.NewPhase(nil, td, opts...); !errors.Is(err, tperrors.ErrCountMismatch) {
			t.Errorf("NewPhase = %v, want ErrCountMismatch", err)
		}
	})

	t.Run("bucket beyond origin capacity", func(t *testing.T) {
		td := validTestData()
		td.PairBucketCounts[tablepress.Table3] = []uint32{100, 16, 16, 16}
		td.EntryCounts[tablepress.Table3] = 148
		if _, err := tablepress.NewPhase(nil, td, opts...); !errors.Is(err, tperrors.ErrBucketOverflow) {
			t.Errorf("NewPhase = %v, want ErrBucketOverflow", err)
		}
	})
}
