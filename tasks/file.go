package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	qerrors "github.com/vinayprograms/replyqueue/errors"
	"github.com/vinayprograms/replyqueue/logging"
)

// FileStore keeps one JSON file per task in a directory.
//
// The file name carries the whole state machine: `<account>__<id>.json` is
// pending and `<account>__<id>.json.taking` is claimed. Claiming is a rename
// of the former to the latter; whoever's rename succeeds owns the task.
// There is no in-process lock, so several processes may share the directory
// as long as it lives on one coherent filesystem.
type FileStore struct {
	dir      string
	selector Selector
	logger   *logging.Logger
	now      func() time.Time
}

// NewFileStore creates the directory if needed and returns a store over it.
func NewFileStore(dir string, opts ...Option) (*FileStore, error) {
	if dir == "" {
		return nil, qerrors.InvalidInput("task directory required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, qerrors.Storage("create task directory", err)
	}
	o := applyOptions(opts)
	return &FileStore{
		dir:      dir,
		selector: NewSelector(o.window),
		logger:   o.logger,
		now:      o.now,
	}, nil
}

// Dir returns the task directory.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, key)
}

// Create writes the task under its pending key. The record is written to a
// hidden temp file first and then hard-linked into place, so readers never
// see a partial file and an existing key is never overwritten.
func (s *FileStore) Create(ctx context.Context, task Task, opts ...CreateOption) (*Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, qerrors.Wrap(err, "create task")
	}
	cfg := applyCreateOptions(opts)
	t, err := prepare(task, cfg, s.now())
	if err != nil {
		return nil, err
	}

	key := PendingKey(t.Partition, t.ID)
	lock := LockFor(t.Partition, t.ID)

	// A claimed twin means the same message is already being worked on.
	if _, err := os.Lstat(s.path(lock)); err == nil {
		s.logger.TaskDuplicate(t.Partition, key)
		return nil, qerrors.AlreadyExists("task already claimed", qerrors.WithTaskID(t.ID))
	}

	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return nil, qerrors.Internal("encode task", qerrors.WithCause(err))
	}

	tmp, err := s.writeTemp(data)
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp)

	// The selector orders by modification time; pin it to CreatedAt.
	if err := os.Chtimes(tmp, t.CreatedAt, t.CreatedAt); err != nil {
		return nil, qerrors.Storage("stamp temp file", err)
	}
	ours, err := os.Lstat(tmp)
	if err != nil {
		return nil, qerrors.Storage("stat temp file", err)
	}

	if err := os.Link(tmp, s.path(key)); err != nil {
		if errors.Is(err, fs.ErrExist) {
			s.logger.TaskDuplicate(t.Partition, key)
			return nil, qerrors.AlreadyExists("task already exists", qerrors.WithTaskID(t.ID))
		}
		return nil, qerrors.Storage("publish task file", err, qerrors.WithTaskID(t.ID))
	}

	// A claim can land between the check above and the link. If the claimed
	// file is not ours, withdraw the pending copy we just published.
	if claimed, err := os.Lstat(s.path(lock)); err == nil && !os.SameFile(claimed, ours) {
		if cur, err := os.Lstat(s.path(key)); err == nil && os.SameFile(cur, ours) {
			if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return nil, qerrors.Storage("withdraw duplicate task", err, qerrors.WithTaskID(t.ID))
			}
		}
		s.logger.TaskDuplicate(t.Partition, key)
		return nil, qerrors.AlreadyExists("task already claimed", qerrors.WithTaskID(t.ID))
	}

	s.logger.TaskCreated(t.ID, t.Partition, key)
	return t, nil
}

func (s *FileStore) writeTemp(data []byte) (string, error) {
	f, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return "", qerrors.Storage("create temp file", err)
	}
	name := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(name)
		return "", qerrors.Storage("write temp file", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(name)
		return "", qerrors.Storage("sync temp file", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", qerrors.Storage("close temp file", err)
	}
	return name, nil
}

// scan lists the directory once and classifies every task file.
func (s *FileStore) scan() ([]Entry, []string, error) {
	dirents, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, nil
		}
		return nil, nil, qerrors.Storage("read task directory", err)
	}

	entries := make([]Entry, 0, len(dirents))
	names := make([]string, 0, len(dirents))
	for _, de := range dirents {
		name := de.Name()
		if strings.HasPrefix(name, ".") || de.IsDir() {
			continue
		}
		names = append(names, name)
		partition, id, state, ok := ParseKey(name)
		if !ok {
			continue
		}
		info, err := de.Info()
		if err != nil {
			// Gone between ReadDir and Info: someone else moved it.
			continue
		}
		entries = append(entries, Entry{
			Key:       name,
			Partition: partition,
			ID:        id,
			State:     state,
			CreatedAt: info.ModTime(),
		})
	}
	sort.Strings(names)
	return entries, names, nil
}

// Claim tries the selector's candidates in order and returns the first one
// whose rename succeeds. A failed rename means another claimant won; the
// loser moves on to the next candidate.
func (s *FileStore) Claim(ctx context.Context, partition string) (*Claim, error) {
	if err := ctx.Err(); err != nil {
		return nil, qerrors.Wrap(err, "claim task")
	}
	if partition != "" {
		partition = SanitizePartition(partition)
	}

	entries, _, err := s.scan()
	if err != nil {
		return nil, err
	}

	pending := make([]Candidate, 0, len(entries))
	for _, e := range entries {
		if e.State == StatePending {
			pending = append(pending, Candidate{Key: e.Key, Partition: e.Partition, CreatedAt: e.CreatedAt})
		}
	}
	candidates := s.selector.Select(pending, partition)

	var lastErr error
	for _, c := range candidates {
		src := s.path(c.Key)
		lock := c.Key[:len(c.Key)-len(pendingSuffix)] + claimedSuffix
		if err := renameNoReplace(src, s.path(lock)); err != nil {
			// ErrExist: a claimed twin holds the lock name; leave it alone.
			if !errors.Is(err, fs.ErrNotExist) && !errors.Is(err, fs.ErrExist) {
				lastErr = err
			}
			s.logger.ClaimRace(c.Key, err)
			continue
		}

		task, err := s.read(lock)
		if err != nil {
			// Left claimed so it stops being offered; visible in List.
			s.logger.Error("claimed task unreadable", map[string]interface{}{
				"lock":  lock,
				"error": err,
			})
			continue
		}

		s.logger.TaskClaimed(lock, c.Partition, len(candidates))
		return &Claim{Task: task, Lock: lock}, nil
	}

	if lastErr != nil {
		return nil, qerrors.Storage("claim task", lastErr)
	}
	s.logger.NoTask(partition, len(candidates))
	return nil, qerrors.NoTask()
}

func (s *FileStore) read(key string) (*Task, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, qerrors.NotFound("task not found", qerrors.WithLock(key))
		}
		return nil, qerrors.Storage("read task", err, qerrors.WithLock(key))
	}
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, qerrors.Corruption("decode task", err, qerrors.WithLock(key))
	}
	return &t, nil
}

// Get reads the claimed task behind lock.
func (s *FileStore) Get(ctx context.Context, lock string) (*Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, qerrors.Wrap(err, "get task")
	}
	if _, err := ParseLock(lock); err != nil {
		return nil, err
	}
	return s.read(lock)
}

// Finalize deletes the claimed file. Deleting an already deleted file is
// treated as success so completion calls can be retried freely.
func (s *FileStore) Finalize(ctx context.Context, lock string) error {
	if err := ctx.Err(); err != nil {
		return qerrors.Wrap(err, "finalize task")
	}
	if _, err := ParseLock(lock); err != nil {
		return err
	}
	err := os.Remove(s.path(lock))
	switch {
	case err == nil:
		s.logger.TaskFinalized(lock, true)
		return nil
	case errors.Is(err, fs.ErrNotExist):
		s.logger.TaskFinalized(lock, false)
		return nil
	default:
		return qerrors.Storage("delete claimed task", err, qerrors.WithLock(lock))
	}
}

// Requeue renames the claimed file back to its pending name. The file
// keeps its modification time, so it returns to its original place in the
// newest-first order. A pending twin under the same name is never
// overwritten; the claimed file stays and the caller gets a STORAGE error.
func (s *FileStore) Requeue(ctx context.Context, lock string) error {
	if err := ctx.Err(); err != nil {
		return qerrors.Wrap(err, "requeue task")
	}
	pendingKey, err := ParseLock(lock)
	if err != nil {
		return err
	}
	err = renameNoReplace(s.path(lock), s.path(pendingKey))
	switch {
	case err == nil:
		s.logger.TaskRequeued(lock, true)
		return nil
	case errors.Is(err, fs.ErrNotExist):
		s.logger.TaskRequeued(lock, false)
		return nil
	case errors.Is(err, fs.ErrExist):
		return qerrors.Storage("requeue claimed task", errors.New("pending copy already present"), qerrors.WithLock(lock))
	default:
		return qerrors.Storage("requeue claimed task", err, qerrors.WithLock(lock))
	}
}

// List returns every task file without touching any of them.
func (s *FileStore) List(ctx context.Context) (*Listing, error) {
	if err := ctx.Err(); err != nil {
		return nil, qerrors.Wrap(err, "list tasks")
	}
	entries, names, err := s.scan()
	if err != nil {
		return nil, err
	}
	return buildListing(entries, names), nil
}

// Close is a no-op; the directory needs no teardown.
func (s *FileStore) Close() error {
	return nil
}

func buildListing(entries []Entry, names []string) *Listing {
	l := &Listing{
		Keys:    names,
		Pending: []Entry{},
		Claimed: []Entry{},
	}
	if l.Keys == nil {
		l.Keys = []string{}
	}
	for _, e := range entries {
		if e.State == StateClaimed {
			l.Claimed = append(l.Claimed, e)
		} else {
			l.Pending = append(l.Pending, e)
		}
	}
	newestFirst := func(es []Entry) {
		sort.SliceStable(es, func(i, j int) bool {
			if !es[i].CreatedAt.Equal(es[j].CreatedAt) {
				return es[i].CreatedAt.After(es[j].CreatedAt)
			}
			return es[i].Key < es[j].Key
		})
	}
	newestFirst(l.Pending)
	newestFirst(l.Claimed)
	return l
}

var _ Store = (*FileStore)(nil)
