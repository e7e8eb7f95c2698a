// Package memory is an in-process implementation of repository.Store used by
// the engine tests. Transactions work on a copy of the data set and swap it in
// on commit, so a failed transaction leaves no trace.
package memory

import (
	"context"
	"maps"
	"sort"
	"sync"

	"github.com/garnizeh/jobpipe/pkg/models"
	"github.com/garnizeh/jobpipe/pkg/repository"
)

var (
	_ repository.Store = (*Store)(nil)
	_ repository.Tx    = (*txView)(nil)
)

type Store struct {
	mu     sync.Mutex
	data   *state
	faults map[string]error
}

func New() *Store {
	return &Store{data: newState(), faults: map[string]error{}}
}

// FailOn makes every call to the named method (e.g. "AppendActivity") return
// err until cleared with a nil err.
func (s *Store) FailOn(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, method)
		return
	}
	s.faults[method] = err
}

func (s *Store) WithTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := s.data.clone()
	if err := fn(&txView{st: staged, faults: s.faults}); err != nil {
		return err
	}
	s.data = staged
	return nil
}

func (s *Store) view() *txView { return &txView{st: s.data, faults: s.faults} }

func (s *Store) CreateOpportunity(ctx context.Context, o *models.Opportunity) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().CreateOpportunity(ctx, o)
}

func (s *Store) GetOpportunity(ctx context.Context, id int64) (*models.Opportunity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().GetOpportunity(ctx, id)
}

func (s *Store) SaveOpportunity(ctx context.Context, o *models.Opportunity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().SaveOpportunity(ctx, o)
}

func (s *Store) ListOpportunities(ctx context.Context, f models.OpportunityFilter) ([]models.Opportunity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().ListOpportunities(ctx, f)
}

func (s *Store) CreateContact(ctx context.Context, c *models.Contact) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().CreateContact(ctx, c)
}

func (s *Store) GetContact(ctx context.Context, id int64) (*models.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().GetContact(ctx, id)
}

func (s *Store) SaveContact(ctx context.Context, c *models.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().SaveContact(ctx, c)
}

func (s *Store) ListContacts(ctx context.Context, opportunityID int64) ([]models.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().ListContacts(ctx, opportunityID)
}

func (s *Store) ListOutreachContacts(ctx context.Context) ([]models.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().ListOutreachContacts(ctx)
}

func (s *Store) AppendActivity(ctx context.Context, a *models.Activity) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().AppendActivity(ctx, a)
}

func (s *Store) ListActivities(ctx context.Context, opportunityID int64) ([]models.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().ListActivities(ctx, opportunityID)
}

type state struct {
	opps        map[int64]models.Opportunity
	contacts    map[int64]models.Contact
	activities  []models.Activity
	lastOpp     int64
	lastContact int64
	lastAct     int64
}

func newState() *state {
	return &state{
		opps:     map[int64]models.Opportunity{},
		contacts: map[int64]models.Contact{},
	}
}

func (st *state) clone() *state {
	return &state{
		opps:        maps.Clone(st.opps),
		contacts:    maps.Clone(st.contacts),
		activities:  append([]models.Activity(nil), st.activities...),
		lastOpp:     st.lastOpp,
		lastContact: st.lastContact,
		lastAct:     st.lastAct,
	}
}

// txView operates on one state without locking; the caller holds Store.mu.
type txView struct {
	st     *state
	faults map[string]error
}

func (v *txView) fault(method string) error { return v.faults[method] }

func (v *txView) CreateOpportunity(_ context.Context, o *models.Opportunity) (int64, error) {
	if err := v.fault("CreateOpportunity"); err != nil {
		return 0, err
	}
	v.st.lastOpp++
	cp := copyOpportunity(*o)
	cp.ID = v.st.lastOpp
	v.st.opps[cp.ID] = cp
	return cp.ID, nil
}

func (v *txView) GetOpportunity(_ context.Context, id int64) (*models.Opportunity, error) {
	if err := v.fault("GetOpportunity"); err != nil {
		return nil, err
	}
	o, ok := v.st.opps[id]
	if !ok {
		return nil, nil
	}
	cp := copyOpportunity(o)
	return &cp, nil
}

func (v *txView) SaveOpportunity(_ context.Context, o *models.Opportunity) error {
	if err := v.fault("SaveOpportunity"); err != nil {
		return err
	}
	if _, ok := v.st.opps[o.ID]; !ok {
		return errMissing("opportunity", o.ID)
	}
	v.st.opps[o.ID] = copyOpportunity(*o)
	return nil
}

func (v *txView) ListOpportunities(_ context.Context, f models.OpportunityFilter) ([]models.Opportunity, error) {
	if err := v.fault("ListOpportunities"); err != nil {
		return nil, err
	}
	out := make([]models.Opportunity, 0, len(v.st.opps))
	for _, o := range v.st.opps {
		if f.Stage != "" && o.Stage != f.Stage {
			continue
		}
		if f.Tier != 0 && o.Tier != f.Tier {
			continue
		}
		if f.JobFamily != "" && o.JobFamily != f.JobFamily {
			continue
		}
		if f.ExcludeClosed && o.Stage == models.StageClosed {
			continue
		}
		if f.Unscored && o.FitScore != nil {
			continue
		}
		out = append(out, copyOpportunity(o))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *txView) CreateContact(_ context.Context, c *models.Contact) (int64, error) {
	if err := v.fault("CreateContact"); err != nil {
		return 0, err
	}
	if _, ok := v.st.opps[c.OpportunityID]; !ok {
		return 0, errMissing("opportunity", c.OpportunityID)
	}
	v.st.lastContact++
	cp := copyContact(*c)
	cp.ID = v.st.lastContact
	v.st.contacts[cp.ID] = cp
	return cp.ID, nil
}

func (v *txView) GetContact(_ context.Context, id int64) (*models.Contact, error) {
	if err := v.fault("GetContact"); err != nil {
		return nil, err
	}
	c, ok := v.st.contacts[id]
	if !ok {
		return nil, nil
	}
	cp := copyContact(c)
	return &cp, nil
}

func (v *txView) SaveContact(_ context.Context, c *models.Contact) error {
	if err := v.fault("SaveContact"); err != nil {
		return err
	}
	if _, ok := v.st.contacts[c.ID]; !ok {
		return errMissing("contact", c.ID)
	}
	v.st.contacts[c.ID] = copyContact(*c)
	return nil
}

func (v *txView) ListContacts(_ context.Context, opportunityID int64) ([]models.Contact, error) {
	if err := v.fault("ListContacts"); err != nil {
		return nil, err
	}
	return v.contacts(func(c models.Contact) bool { return c.OpportunityID == opportunityID }), nil
}

func (v *txView) ListOutreachContacts(_ context.Context) ([]models.Contact, error) {
	if err := v.fault("ListOutreachContacts"); err != nil {
		return nil, err
	}
	return v.contacts(func(c models.Contact) bool { return c.OutreachSentAt != nil }), nil
}

func (v *txView) contacts(keep func(models.Contact) bool) []models.Contact {
	var out []models.Contact
	for _, c := range v.st.contacts {
		if keep(c) {
			out = append(out, copyContact(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (v *txView) AppendActivity(_ context.Context, a *models.Activity) (int64, error) {
	if err := v.fault("AppendActivity"); err != nil {
		return 0, err
	}
	if _, ok := v.st.opps[a.OpportunityID]; !ok {
		return 0, errMissing("opportunity", a.OpportunityID)
	}
	v.st.lastAct++
	cp := *a
	cp.ID = v.st.lastAct
	cp.Metadata = maps.Clone(a.Metadata)
	v.st.activities = append(v.st.activities, cp)
	return cp.ID, nil
}

func (v *txView) ListActivities(_ context.Context, opportunityID int64) ([]models.Activity, error) {
	if err := v.fault("ListActivities"); err != nil {
		return nil, err
	}
	var out []models.Activity
	for _, a := range v.st.activities {
		if a.OpportunityID == opportunityID {
			cp := a
			cp.Metadata = maps.Clone(a.Metadata)
			out = append(out, cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func copyOpportunity(o models.Opportunity) models.Opportunity {
	if o.FitScore != nil {
		v := *o.FitScore
		o.FitScore = &v
	}
	return o
}

func copyContact(c models.Contact) models.Contact {
	c.OutreachSentAt = copyTime(c.OutreachSentAt)
	c.FollowUp3SentAt = copyTime(c.FollowUp3SentAt)
	c.FollowUp7SentAt = copyTime(c.FollowUp7SentAt)
	return c
}
