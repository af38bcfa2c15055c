package model

// ImageRef is one image entry of a manifest batch.
type ImageRef struct {
	ID      string `json:"id"`
	Crucial bool   `json:"crucial"`
}

// Batch is an ordered group of images of a single size.
type Batch struct {
	// Index is the 1-based position of the batch in the manifest.
	Index  int        `json:"index"`
	Size   int        `json:"size"`
	Images []ImageRef `json:"images"`
}

// Manifest is the ordered execution plan emitted by a scheduling algorithm.
type Manifest struct {
	Batches         []Batch  `json:"batches"`
	DeadlineSeconds *float64 `json:"deadline,omitempty"`
}

// HasDeadline reports whether the manifest carried a deadline marker.
func (m *Manifest) HasDeadline() bool {
	return m.DeadlineSeconds != nil
}

// DeadlineMillis returns the deadline in milliseconds, or 0 when unset.
func (m *Manifest) DeadlineMillis() float64 {
	if m.DeadlineSeconds == nil {
		return 0
	}
	return *m.DeadlineSeconds * 1000
}

// ImageCount returns the total number of image entries across all batches.
func (m *Manifest) ImageCount() int {
	n := 0
	for _, b := range m.Batches {
		n += len(b.Images)
	}
	return n
}
