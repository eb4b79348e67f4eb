package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lunaroute/polyclaude-proxy/internal/config"
	"github.com/lunaroute/polyclaude-proxy/internal/utils"
)

// accountRecord is the on-disk encoding of one account. Timestamps are
// ISO-8601 strings on disk, unix milliseconds in memory.
type accountRecord struct {
	ID            string         `json:"id"`
	Email         string         `json:"email,omitempty"`
	Label         string         `json:"label,omitempty"`
	Backend       config.Backend `json:"backend"`
	Credentials   Credentials    `json:"credentials"`
	AddedAt       string         `json:"addedAt,omitempty"`
	LastUsed      string         `json:"lastUsed,omitempty"`
	Enabled       bool           `json:"enabled"`
	IsInvalid     bool           `json:"isInvalid"`
	InvalidReason string         `json:"invalidReason,omitempty"`
	CooldownUntil string         `json:"cooldownUntil,omitempty"`
	Quota         *QuotaInfo     `json:"quota,omitempty"`
}

// fileFormat is the on-disk envelope for one backend's accounts.
type fileFormat struct {
	Accounts    []accountRecord `json:"accounts"`
	ActiveIndex int             `json:"activeIndex"`
}

func isoFromMillis(ms int64) string {
	if ms == 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339Nano)
}

func millisFromISO(s string) int64 {
	if s == "" {
		return 0
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return 0
	}
	return ts.UnixMilli()
}

// recordFromAccount deep-copies an account into its wire form, so later
// mutations by the pool cannot race the save worker.
func recordFromAccount(a *Account) accountRecord {
	r := accountRecord{
		ID:            a.ID,
		Email:         a.Email,
		Label:         a.Label,
		Backend:       a.Backend,
		Credentials:   a.Credentials,
		AddedAt:       isoFromMillis(a.AddedAt),
		LastUsed:      isoFromMillis(a.LastUsed),
		Enabled:       a.Enabled,
		IsInvalid:     a.Invalid,
		InvalidReason: a.InvalidReason,
		CooldownUntil: isoFromMillis(a.CooldownUntil),
	}
	if a.Quota != nil {
		q := *a.Quota
		if a.Quota.Models != nil {
			q.Models = make(map[string]*ModelQuota, len(a.Quota.Models))
			for k, v := range a.Quota.Models {
				mv := *v
				q.Models[k] = &mv
			}
		}
		r.Quota = &q
	}
	return r
}

func (r accountRecord) account() *Account {
	return &Account{
		ID:            r.ID,
		Email:         r.Email,
		Label:         r.Label,
		Backend:       r.Backend,
		Credentials:   r.Credentials,
		AddedAt:       millisFromISO(r.AddedAt),
		LastUsed:      millisFromISO(r.LastUsed),
		Enabled:       r.Enabled,
		Invalid:       r.IsInvalid,
		InvalidReason: r.InvalidReason,
		CooldownUntil: millisFromISO(r.CooldownUntil),
		Quota:         r.Quota,
	}
}

// FileStore persists one backend's pool as a single JSON file. Writes go
// through a serialized background worker so callers never block on disk,
// and each write replaces the whole file via temp-and-rename.
type FileStore struct {
	path    string
	saveCh  chan fileFormat
	doneCh  chan struct{}
	stopped chan struct{}
}

// NewFileStore creates a store for one backend's account file and starts
// its save worker.
func NewFileStore(backend config.Backend) *FileStore {
	return NewFileStoreAt(config.AccountConfigPath(backend))
}

// NewFileStoreAt creates a store writing to an explicit path.
func NewFileStoreAt(path string) *FileStore {
	s := &FileStore{
		path:    path,
		saveCh:  make(chan fileFormat, 16),
		doneCh:  make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go s.saveWorker()
	return s
}

// Load reads the account file and the persisted rotation anchor. A missing
// file yields an empty pool; a corrupt file is logged and treated as empty
// rather than aborting startup.
func (s *FileStore) Load() ([]*Account, int) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			utils.Warn("Failed to read %s: %v", s.path, err)
		}
		return nil, 0
	}

	var ff fileFormat
	if err := json.Unmarshal(data, &ff); err != nil {
		utils.Warn("Account file %s is corrupt, starting with empty pool: %v", s.path, err)
		return nil, 0
	}

	accounts := make([]*Account, len(ff.Accounts))
	for i, r := range ff.Accounts {
		accounts[i] = r.account()
	}
	return accounts, ff.ActiveIndex
}

// Save queues an async snapshot write.
func (s *FileStore) Save(accounts []*Account, activeIndex int) {
	snapshot := fileFormat{
		Accounts:    make([]accountRecord, len(accounts)),
		ActiveIndex: activeIndex,
	}
	for i, a := range accounts {
		snapshot.Accounts[i] = recordFromAccount(a)
	}

	select {
	case s.saveCh <- snapshot:
	case <-s.doneCh:
	}
}

// Close stops the save worker, waiting until queued writes have reached disk.
func (s *FileStore) Close() {
	close(s.doneCh)
	<-s.stopped
}

func (s *FileStore) saveWorker() {
	defer close(s.stopped)
	for {
		select {
		case ff := <-s.saveCh:
			// Collapse a backlog down to the newest snapshot.
			for {
				select {
				case ff = <-s.saveCh:
					continue
				default:
				}
				break
			}
			if err := s.writeFile(ff); err != nil {
				utils.Error("Failed to save accounts to %s: %v", s.path, err)
			}
		case <-s.doneCh:
			for {
				select {
				case ff := <-s.saveCh:
					if err := s.writeFile(ff); err != nil {
						utils.Error("Failed to save accounts to %s: %v", s.path, err)
					}
				default:
					return
				}
			}
		}
	}
}

func (s *FileStore) writeFile(ff fileFormat) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(ff, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal accounts: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace account file: %w", err)
	}
	return nil
}
