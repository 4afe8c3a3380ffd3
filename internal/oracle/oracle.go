// Package oracle builds deterministic synthetic plot datasets: the artifacts
// the earlier pipeline phases would leave on disk (x stream, back pointers,
// origin maps, reachability marks), shaped so every back pointer resolves to
// a real entry. Tests and the benchmark tool use it to drive the compression
// engine end to end and to check its output against first principles.
package oracle

import (
	"encoding/binary"
	"fmt"
	"path/filepath"

	"github.com/spaolacci/murmur3"
	"github.com/zeebo/xxh3"

	"github.com/plotforge/tablepress"
	"github.com/plotforge/tablepress/diskqueue"
	"github.com/plotforge/tablepress/internal/bits"
)

// Params shapes a generated dataset.
type Params struct {
	K          uint32
	NumBuckets uint32
	ExtraL     uint32
	Label      string // seeds every value stream; same label, same dataset

	// XCounts holds per-bucket entry counts of the x stream; PairCounts[t]
	// the per-bucket entry counts of tables 2..7.
	XCounts    []uint32
	PairCounts [8][]uint32
}

// TableInput is one table's earlier-phase artifacts, bucket-major.
type TableInput struct {
	Left  [][]uint32
	Right [][]uint16
	RMap  [][]uint32 // origin key per entry: a permutation of the bucket's key range
}

// Dataset is a complete in-memory seven-table input.
type Dataset struct {
	K          uint32
	NumBuckets uint32
	ExtraL     uint32
	Fixed      uint32 // origin-bucket key capacity

	XCounts    []uint32
	PairCounts [8][]uint32

	X      [][]uint32 // x values per bucket
	Tables [8]*TableInput
	Marks  [8]bits.BitField
}

// stream is a deterministic value source: murmur3 of a counter, seeded per
// purpose from the dataset label.
type stream struct {
	seed uint32
	ctr  uint64
}

func newStream(label, tag string) *stream {
	return &stream{seed: uint32(xxh3.HashString(label + "/" + tag))}
}

func (s *stream) next() uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], s.ctr)
	s.ctr++
	return murmur3.Sum64WithSeed(buf[:], s.seed)
}

func (s *stream) intn(n uint64) uint64 {
	return s.next() % n
}

// Generate builds a dataset with valid back pointers and no marks set.
// Call one of MarkAll, MarkNone, or MarkReachable before writing it out.
func Generate(p Params) *Dataset {
	d := &Dataset{
		K:          p.K,
		NumBuckets: p.NumBuckets,
		ExtraL:     p.ExtraL,
		Fixed:      uint32((uint64(1) << p.K) / uint64(p.NumBuckets)),
		XCounts:    p.XCounts,
		PairCounts: p.PairCounts,
	}

	xs := newStream(p.Label, "x")
	d.X = make([][]uint32, p.NumBuckets)
	for b := range d.X {
		d.X[b] = make([]uint32, p.XCounts[b])
		for i := range d.X[b] {
			d.X[b][i] = uint32(xs.intn(uint64(1) << p.K))
		}
	}

	for t := tablepress.Table2; t <= tablepress.Table7; t++ {
		d.Tables[t] = d.generateTable(p, t)
		d.Marks[t] = bits.NewBitField(uint64(p.NumBuckets) * uint64(d.Fixed))
	}
	return d
}

func (d *Dataset) generateTable(p Params, t tablepress.TableID) *TableInput {
	counts := p.PairCounts[t]
	lCounts := d.lTableCounts(t)
	ps := newStream(p.Label, fmt.Sprintf("pairs_%d", t))
	ks := newStream(p.Label, fmt.Sprintf("rmap_%d", t))

	in := &TableInput{
		Left:  make([][]uint32, p.NumBuckets),
		Right: make([][]uint16, p.NumBuckets),
		RMap:  make([][]uint32, p.NumBuckets),
	}

	for b := uint32(0); b < p.NumBuckets; b++ {
		n := counts[b]
		in.Left[b] = make([]uint32, n)
		in.Right[b] = make([]uint16, n)
		in.RMap[b] = make([]uint32, n)
		if n == 0 {
			continue
		}

		// The largest addressable l-slot: the l-bucket itself plus the
		// overshoot into the next bucket's real entries.
		var spill uint32
		if b+1 < p.NumBuckets {
			spill = min(p.ExtraL, lCounts[b+1])
		}
		if lCounts[b] == 0 {
			panic(fmt.Sprintf("oracle: table %d bucket %d has entries but its l-bucket is empty", t, b))
		}
		maxJ2 := lCounts[b] - 1 + spill
		if maxJ2 == 0 {
			panic(fmt.Sprintf("oracle: table %d bucket %d has no addressable pair target", t, b))
		}

		for i := range n {
			left := uint32(ps.intn(uint64(lCounts[b])))
			if left >= maxJ2 {
				left = maxJ2 - 1
			}
			maxRight := min(uint64(maxJ2-left), 0xffff)
			right := uint16(1 + ps.intn(maxRight))
			in.Left[b][i] = left
			in.Right[b][i] = right
		}

		// Origin keys: a shuffled permutation of the bucket's key range.
		base := b * d.Fixed
		for i := range n {
			in.RMap[b][i] = base + i
		}
		for i := n - 1; i > 0; i-- {
			j := uint32(ks.intn(uint64(i + 1)))
			in.RMap[b][i], in.RMap[b][j] = in.RMap[b][j], in.RMap[b][i]
		}
	}
	return in
}

// lTableCounts returns the per-bucket entry counts of table t's l-table.
func (d *Dataset) lTableCounts(t tablepress.TableID) []uint32 {
	if t == tablepress.Table2 {
		return d.XCounts
	}
	return d.PairCounts[t-1]
}

// ResolveRef maps an l-slot reference (bucket b, slot j) to the origin key
// of the l-table entry it dereferences, following the cross-bucket carry:
// slots past the bucket's own entries spill into the next bucket's head.
func (d *Dataset) ResolveRef(t tablepress.TableID, b, j uint32) uint32 {
	lCounts := d.lTableCounts(t)
	if j < lCounts[b] {
		return b*d.Fixed + j
	}
	return (b+1)*d.Fixed + (j - lCounts[b])
}

// XValue returns the x value at an origin key of the x stream.
func (d *Dataset) XValue(key uint32) uint32 {
	return d.X[key/d.Fixed][key%d.Fixed]
}

// MarkAll marks every entry of every table.
func (d *Dataset) MarkAll() {
	for t := tablepress.Table2; t <= tablepress.Table7; t++ {
		clear(d.Marks[t])
		for b := uint32(0); b < d.NumBuckets; b++ {
			for _, key := range d.Tables[t].RMap[b] {
				d.Marks[t].Set(uint64(key))
			}
		}
	}
}

// MarkNone clears every mark.
func (d *Dataset) MarkNone() {
	for t := tablepress.Table2; t <= tablepress.Table7; t++ {
		clear(d.Marks[t])
	}
}

// MarkReachable marks a random fraction of table 7 and propagates
// reachability down: an entry survives iff some surviving entry of the next
// table references it. This is the shape the back-trace pruning pass leaves.
func (d *Dataset) MarkReachable(rate float64, label string) {
	d.MarkNone()

	ms := newStream(label, "mark7")
	threshold := uint64(rate * (1 << 32))
	for b := uint32(0); b < d.NumBuckets; b++ {
		for _, key := range d.Tables[tablepress.Table7].RMap[b] {
			if ms.next()&0xffffffff < threshold {
				d.Marks[tablepress.Table7].Set(uint64(key))
			}
		}
	}

	for t := tablepress.Table7; t > tablepress.Table2; t-- {
		in := d.Tables[t]
		for b := uint32(0); b < d.NumBuckets; b++ {
			for i, key := range in.RMap[b] {
				if !d.Marks[t].Get(uint64(key)) {
					continue
				}
				j1 := in.Left[b][i]
				j2 := j1 + uint32(in.Right[b][i])
				d.Marks[t-1].Set(uint64(d.ResolveRef(t, b, j1)))
				d.Marks[t-1].Set(uint64(d.ResolveRef(t, b, j2)))
			}
		}
	}
}

// Survivor is one marked entry, with its references resolved.
type Survivor struct {
	Bucket uint32
	Index  uint32
	Key    uint32 // origin key
	Ref1   uint32 // origin key of the first parent
	Ref2   uint32 // origin key of the second parent
}

// Survivors returns table t's marked entries in bucket-major entry order.
func (d *Dataset) Survivors(t tablepress.TableID) []Survivor {
	in := d.Tables[t]
	var out []Survivor
	for b := uint32(0); b < d.NumBuckets; b++ {
		for i, key := range in.RMap[b] {
			if !d.Marks[t].Get(uint64(key)) {
				continue
			}
			j1 := in.Left[b][i]
			j2 := j1 + uint32(in.Right[b][i])
			out = append(out, Survivor{
				Bucket: b,
				Index:  uint32(i),
				Key:    key,
				Ref1:   d.ResolveRef(t, b, j1),
				Ref2:   d.ResolveRef(t, b, j2),
			})
		}
	}
	return out
}

// Input file set names, one logical stream each.
func xName() string                          { return "x" }
func marksName(t tablepress.TableID) string  { return fmt.Sprintf("marks_%d", t) }
func pairsLName(t tablepress.TableID) string { return fmt.Sprintf("t%d_l", t) }
func pairsRName(t tablepress.TableID) string { return fmt.Sprintf("t%d_r", t) }
func mapName(t tablepress.TableID) string    { return fmt.Sprintf("map_%d", t) }

// InitInputSets registers the earlier-phase file sets on the queue under the
// names WriteFiles uses.
func (d *Dataset) InitInputSets(q tablepress.IOQueue) error {
	if err := q.InitFileSet(tablepress.FileX, xName(), 1); err != nil {
		return err
	}
	for t := tablepress.Table2; t <= tablepress.Table7; t++ {
		if err := q.InitFileSet(tablepress.MarksFileID(t), marksName(t), 1); err != nil {
			return err
		}
		if err := q.InitFileSet(tablepress.PairsLFileID(t), pairsLName(t), 1); err != nil {
			return err
		}
		if err := q.InitFileSet(tablepress.PairsRFileID(t), pairsRName(t), 1); err != nil {
			return err
		}
		if err := q.InitFileSet(tablepress.MapFileID(t), mapName(t), 1); err != nil {
			return err
		}
	}
	return nil
}

// WriteFiles emits every input artifact under dir using the queue's file
// naming, via pre-allocated mapped writers.
func (d *Dataset) WriteFiles(dir string) error {
	if err := writeStream(filepath.Join(dir, xName()+".0"), u32Chunks(d.X)); err != nil {
		return err
	}
	for t := tablepress.Table2; t <= tablepress.Table7; t++ {
		in := d.Tables[t]
		if err := writeStream(filepath.Join(dir, marksName(t)+".0"),
			[][]byte{bits.U64Bytes(d.Marks[t])}); err != nil {
			return err
		}
		if err := writeStream(filepath.Join(dir, pairsLName(t)+".0"), u32Chunks(in.Left)); err != nil {
			return err
		}
		if err := writeStream(filepath.Join(dir, pairsRName(t)+".0"), u16Chunks(in.Right)); err != nil {
			return err
		}
		if err := writeStream(filepath.Join(dir, mapName(t)+".0"), u32Chunks(in.RMap)); err != nil {
			return err
		}
	}
	return nil
}

// TableData returns the layout description the engine is constructed with.
func (d *Dataset) TableData() *tablepress.TableData {
	td := &tablepress.TableData{XBucketCounts: d.XCounts}
	for _, c := range d.XCounts {
		td.EntryCounts[tablepress.Table1] += uint64(c)
	}
	for t := tablepress.Table2; t <= tablepress.Table7; t++ {
		td.PairBucketCounts[t] = d.PairCounts[t]
		for _, c := range d.PairCounts[t] {
			td.EntryCounts[t] += uint64(c)
		}
	}
	return td
}

func u32Chunks(buckets [][]uint32) [][]byte {
	out := make([][]byte, len(buckets))
	for i, b := range buckets {
		out[i] = bits.U32Bytes(b)
	}
	return out
}

func u16Chunks(buckets [][]uint16) [][]byte {
	out := make([][]byte, len(buckets))
	for i, b := range buckets {
		out[i] = bits.U16Bytes(b)
	}
	return out
}

func writeStream(path string, chunks [][]byte) error {
	var total int64
	for _, c := range chunks {
		total += int64(len(c))
	}
	if total == 0 {
		// Mapped regions cannot be empty; map one byte and finalize it
		// down to an empty file.
		w, err := diskqueue.NewMappedWriter(path, 1)
		if err != nil {
			return err
		}
		return w.Finalize()
	}

	w, err := diskqueue.NewMappedWriter(path, total)
	if err != nil {
		return err
	}
	for _, c := range chunks {
		if _, err := w.Write(c); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	return w.Finalize()
}
