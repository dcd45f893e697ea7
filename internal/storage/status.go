package storage

import (
	"sync"
	"sync/atomic"
	"time"
)

// Save results reported by PersistenceStatus.
const (
	ResultNone = ""
	ResultOK   = "ok"
	ResultErr  = "err"
)

// PersistenceStatus is a point-in-time copy of the coordinator's state.
type PersistenceStatus struct {
	Loading bool `json:"loading" yaml:"loading"`
	Saving  bool `json:"saving" yaml:"saving"`

	LastSaveTime     time.Time     `json:"last_save_time" yaml:"last_save_time"`
	LastSaveDuration time.Duration `json:"last_save_duration" yaml:"last_save_duration"`
	LastSaveResult   string        `json:"last_save_result" yaml:"last_save_result"`
	LastSaveError    string        `json:"last_save_error,omitempty" yaml:"last_save_error,omitempty"`
	LastSaveName     string        `json:"last_save_name,omitempty" yaml:"last_save_name,omitempty"`
	LastSaveFiles    []string      `json:"last_save_files,omitempty" yaml:"last_save_files,omitempty"`

	SavesTotal           uint64 `json:"saves_total" yaml:"saves_total"`
	SaveFailuresTotal    uint64 `json:"save_failures_total" yaml:"save_failures_total"`
	ChangesSinceLastSave uint64 `json:"changes_since_last_save" yaml:"changes_since_last_save"`

	LastLoadTime    time.Time `json:"last_load_time" yaml:"last_load_time"`
	LastLoadSource  string    `json:"last_load_source,omitempty" yaml:"last_load_source,omitempty"`
	LastLoadRecords int       `json:"last_load_records" yaml:"last_load_records"`
}

// status is owned by one Coordinator. The in-flight flags are atomics so
// they can gate operations; everything else sits behind mu.
type status struct {
	loading atomic.Bool
	saving  atomic.Bool

	mu       sync.RWMutex
	s        PersistenceStatus
	baseline uint64 // store change counter at the last save or load
}

func (st *status) snapshot(changes uint64) PersistenceStatus {
	st.mu.RLock()
	out := st.s
	out.LastSaveFiles = append([]string(nil), st.s.LastSaveFiles...)
	base := st.baseline
	st.mu.RUnlock()

	out.Loading = st.loading.Load()
	out.Saving = st.saving.Load()
	if changes > base {
		out.ChangesSinceLastSave = changes - base
	}
	return out
}

func (st *status) saveDone(sum *SaveSummary, changesAtCut uint64, err error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.SavesTotal++
	if err != nil {
		st.s.SaveFailuresTotal++
		st.s.LastSaveResult = ResultErr
		st.s.LastSaveError = err.Error()
		return
	}
	st.s.LastSaveResult = ResultOK
	st.s.LastSaveError = ""
	st.s.LastSaveTime = sum.StartedAt
	st.s.LastSaveDuration = sum.Duration
	st.s.LastSaveName = sum.Name
	st.s.LastSaveFiles = sum.Files
	st.baseline = changesAtCut
}

func (st *status) loadDone(sum *LoadSummary, changes uint64) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.LastLoadTime = sum.FinishedAt
	st.s.LastLoadSource = sum.Source
	st.s.LastLoadRecords = sum.Records
	st.baseline = changes
}
