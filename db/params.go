package db

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"

	"github.com/banachtech/svi-surface/svi"
)

// ParamsFile is the parameter store written next to each snapshot.
const ParamsFile = "svi_param_initial.json"

// DefaultTolerance is the maturity match tolerance of FindByMaturity.
const DefaultTolerance = 1e-8

var ErrMaturityNotFound = errors.New("maturity not found in parameter store")

// Record is one stored slice. Key is a stable identifier with no meaning
// beyond the file format.
type Record struct {
	Key string
	svi.Params
}

// ParamStore is the immutable result of one calibration run, ordered by maturity.
type ParamStore struct {
	records []Record
}

func NewParamStore(records ...Record) *ParamStore {
	rs := append([]Record(nil), records...)
	sort.SliceStable(rs, func(i, j int) bool { return rs[i].T < rs[j].T })
	return &ParamStore{records: rs}
}

// FromParams keys each record by its position.
func FromParams(params []svi.Params) *ParamStore {
	records := make([]Record, len(params))
	for i, p := range params {
		records[i] = Record{Key: strconv.Itoa(i), Params: p}
	}
	return NewParamStore(records...)
}

func (s *ParamStore) Records() []Record {
	return append([]Record(nil), s.records...)
}

func (s *ParamStore) Len() int { return len(s.records) }

// FindByMaturity scans for the record with |t - tau| < tol. A miss is an
// error; no nearest match is ever substituted.
func (s *ParamStore) FindByMaturity(tau, tol float64) (svi.Params, error) {
	for _, r := range s.records {
		if math.Abs(r.T-tau) < tol {
			return r.Params, nil
		}
	}
	return svi.Params{}, fmt.Errorf("%w: t=%g (tolerance %g)", ErrMaturityNotFound, tau, tol)
}

// Surface loads every record into a term-structure interpolator.
func (s *ParamStore) Surface() *svi.Surface {
	params := make([]svi.Params, len(s.records))
	for i, r := range s.records {
		params[i] = r.Params
	}
	return svi.SurfaceFromParams(params)
}

func (s *ParamStore) MarshalJSON() ([]byte, error) {
	keyed := make(map[string]svi.Params, len(s.records))
	for _, r := range s.records {
		if _, dup := keyed[r.Key]; dup {
			return nil, fmt.Errorf("duplicate key %q", r.Key)
		}
		keyed[r.Key] = r.Params
	}
	return json.Marshal(keyed)
}

func (s *ParamStore) UnmarshalJSON(b []byte) error {
	var keyed map[string]svi.Params
	if err := json.Unmarshal(b, &keyed); err != nil {
		return err
	}
	records := make([]Record, 0, len(keyed))
	for k, p := range keyed {
		records = append(records, Record{Key: k, Params: p})
	}
	// map order is random; break maturity ties by key
	sort.Slice(records, func(i, j int) bool { return records[i].Key < records[j].Key })
	*s = *NewParamStore(records...)
	return nil
}

// Save writes the store as { "<key>": {t,A,P,B,S,M} }.
func (s *ParamStore) Save(path string) error {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func LoadParamStore(path string) (*ParamStore, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s ParamStore
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &s, nil
}
