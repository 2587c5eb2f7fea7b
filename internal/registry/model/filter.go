package model

import (
	"github.com/bits-and-blooms/bloom/v3"
)

// Filter geometry: 1024 bits with 3 hash functions keeps the false-positive
// rate under 0.1% for the handful of companies a document is typically
// released to. False positives are harmless here; every probable hit is
// confirmed against the explicit releasableTo set.
const (
	filterBits   = 1024
	filterHashes = 3
)

// ReleasabilityFilter is a Bloom filter over the company DIDs a document is
// releasable to. It round-trips through JSON inside the signed registry file.
type ReleasabilityFilter struct {
	f *bloom.BloomFilter
}

// NewReleasabilityFilter builds a filter seeded with the given company DIDs.
func NewReleasabilityFilter(companies []string) *ReleasabilityFilter {
	f := bloom.New(filterBits, filterHashes)
	for _, c := range companies {
		f.AddString(c)
	}
	return &ReleasabilityFilter{f: f}
}

// Test reports probable membership. A false result is definitive.
func (r *ReleasabilityFilter) Test(companyDID string) bool {
	if r == nil || r.f == nil {
		return true
	}
	return r.f.TestString(companyDID)
}

// MarshalJSON serializes the underlying filter bits.
func (r *ReleasabilityFilter) MarshalJSON() ([]byte, error) {
	return r.f.MarshalJSON()
}

// UnmarshalJSON restores the filter from its serialized bits.
func (r *ReleasabilityFilter) UnmarshalJSON(data []byte) error {
	var f bloom.BloomFilter
	if err := f.UnmarshalJSON(data); err != nil {
		return err
	}
	r.f = &f
	return nil
}
