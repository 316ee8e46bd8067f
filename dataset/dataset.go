// Package dataset provides the ChoiceDataset collaborator: an ordered
// collection of choice instances with shared features, per-item
// features, availability masks and observed choices, plus restartable
// mini-batch iteration.
package dataset

import (
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/chogo-ml/chogo/pkg/errors"
)

// FullBatch is the sentinel batch size meaning "the whole dataset as a
// single batch".
const FullBatch = -1

// ChoiceDataset holds n choice instances over a fixed set of items.
//
// Invariants, validated at construction:
//   - shared features, item features, availability and choices all
//     describe the same number of instances;
//   - every instance has the same item count and feature
//     dimensionalities;
//   - the availability mask contains only 0 and 1;
//   - the chosen item is available in its instance.
type ChoiceDataset struct {
	shared  *mat.Dense   // n x nSharedFeatures
	items   []*mat.Dense // n matrices of nItems x nItemsFeatures
	avail   *mat.Dense   // n x nItems, 0/1
	choices []int

	nItems          int
	nSharedFeatures int
	nItemsFeatures  int
}

// New creates a validated ChoiceDataset.
func New(shared *mat.Dense, items []*mat.Dense, avail *mat.Dense, choices []int) (*ChoiceDataset, error) {
	if shared == nil || avail == nil {
		return nil, errors.NewValueError("dataset.New", "shared features and availabilities cannot be nil")
	}
	n, nShared := shared.Dims()
	availRows, nItems := avail.Dims()
	if availRows != n {
		return nil, errors.NewDimensionError("dataset.New", n, availRows, 0)
	}
	if len(items) != n {
		return nil, errors.NewDimensionError("dataset.New", n, len(items), 0)
	}
	if len(choices) != n {
		return nil, errors.NewDimensionError("dataset.New", n, len(choices), 0)
	}
	if n == 0 {
		return nil, errors.NewValueError("dataset.New", "dataset cannot be empty")
	}

	_, nItemsFeatures := items[0].Dims()
	for _, m := range items {
		r, c := m.Dims()
		if r != nItems {
			return nil, errors.NewDimensionError("dataset.New", nItems, r, 0)
		}
		if c != nItemsFeatures {
			return nil, errors.NewDimensionError("dataset.New", nItemsFeatures, c, 1)
		}
	}

	for i := 0; i < n; i++ {
		for j := 0; j < nItems; j++ {
			v := avail.At(i, j)
			if v != 0 && v != 1 {
				return nil, errors.NewValidationError("availability",
					"mask entries must be 0 or 1", v)
			}
		}
		if choices[i] < 0 || choices[i] >= nItems {
			return nil, errors.NewValidationError("choices",
				"choice index out of item range", choices[i])
		}
		if avail.At(i, choices[i]) != 1 {
			return nil, errors.NewValidationError("choices",
				"chosen item must be available in its instance", choices[i])
		}
	}

	return &ChoiceDataset{
		shared:          shared,
		items:           items,
		avail:           avail,
		choices:         choices,
		nItems:          nItems,
		nSharedFeatures: nShared,
		nItemsFeatures:  nItemsFeatures,
	}, nil
}

// Len returns the number of choice instances.
func (d *ChoiceDataset) Len() int { return len(d.choices) }

// NItems returns the number of items in the choice set.
func (d *ChoiceDataset) NItems() int { return d.nItems }

// NSharedFeatures returns the shared feature dimensionality.
func (d *ChoiceDataset) NSharedFeatures() int { return d.nSharedFeatures }

// NItemsFeatures returns the per-item feature dimensionality.
func (d *ChoiceDataset) NItemsFeatures() int { return d.nItemsFeatures }

// Choices returns the observed choice indices.
func (d *ChoiceDataset) Choices() []int {
	return append([]int{}, d.choices...)
}

// Availabilities returns the availability mask.
func (d *ChoiceDataset) Availabilities() *mat.Dense { return d.avail }

// Batch is one fully materialized mini-batch. SampleWeight is nil when
// no weights were requested.
type Batch struct {
	Shared       *mat.Dense
	Items        []*mat.Dense
	Avail        *mat.Dense
	Choices      []int
	SampleWeight []float64
	// Index is the zero-based position of the batch within the pass.
	Index int
}

// Size returns the number of instances in the batch.
func (b *Batch) Size() int { return len(b.Choices) }

// BatchOptions configures one iteration pass.
type BatchOptions struct {
	// BatchSize is the requested batch size; FullBatch means one batch
	// covering the whole dataset.
	BatchSize int
	// Shuffle randomizes the instance order for this pass.
	Shuffle bool
	// SampleWeight, when non-nil, must have one weight per instance and
	// is sliced alongside the features.
	SampleWeight []float64
	// Seed fixes the shuffle order; 0 seeds from the clock.
	Seed int64
}

// BatchIterator yields the batches of a single pass. It is restartable
// by calling IterBatch again, but a single iterator must not be shared
// between consumers.
type BatchIterator struct {
	ds    *ChoiceDataset
	order []int
	size  int
	pos   int
	batch int
	sw    []float64
}

// IterBatch starts a new pass over the dataset.
func (d *ChoiceDataset) IterBatch(opts BatchOptions) (*BatchIterator, error) {
	if opts.BatchSize == 0 || opts.BatchSize < FullBatch {
		return nil, errors.NewValueError("IterBatch", "batch size must be positive or FullBatch")
	}
	if opts.SampleWeight != nil && len(opts.SampleWeight) != d.Len() {
		return nil, errors.NewDimensionError("IterBatch", d.Len(), len(opts.SampleWeight), 0)
	}

	size := opts.BatchSize
	if size == FullBatch {
		size = d.Len()
	}

	order := make([]int, d.Len())
	for i := range order {
		order[i] = i
	}
	if opts.Shuffle {
		seed := opts.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		rng := rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0xdeadbeef))
		rng.Shuffle(len(order), func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})
	}

	return &BatchIterator{ds: d, order: order, size: size, sw: opts.SampleWeight}, nil
}

// Next returns the next batch of the pass, or (nil, false) when the
// pass is exhausted. Batches are materialized before being returned.
func (it *BatchIterator) Next() (*Batch, bool) {
	if it.pos >= len(it.order) {
		return nil, false
	}
	end := it.pos + it.size
	if end > len(it.order) {
		end = len(it.order)
	}
	idx := it.order[it.pos:end]

	b := &Batch{
		Shared:  mat.NewDense(len(idx), it.ds.nSharedFeatures, nil),
		Items:   make([]*mat.Dense, len(idx)),
		Avail:   mat.NewDense(len(idx), it.ds.nItems, nil),
		Choices: make([]int, len(idx)),
		Index:   it.batch,
	}
	if it.sw != nil {
		b.SampleWeight = make([]float64, len(idx))
	}
	for row, i := range idx {
		b.Shared.SetRow(row, mat.Row(nil, i, it.ds.shared))
		b.Avail.SetRow(row, mat.Row(nil, i, it.ds.avail))
		b.Choices[row] = it.ds.choices[i]
		var items mat.Dense
		items.CloneFrom(it.ds.items[i])
		b.Items[row] = &items
		if it.sw != nil {
			b.SampleWeight[row] = it.sw[i]
		}
	}

	it.pos = end
	it.batch++
	return b, true
}
