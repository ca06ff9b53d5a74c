// Package storage keeps recording sessions on disk. Each session directory
// holds the movies of its devices, periodic snapshots and the final device
// statistics.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"iidc-capture/pkg/storage/consts"
	"iidc-capture/pkg/storage/util"
	"iidc-capture/pkg/utils"
)

var (
	ErrSessionExists   = errors.New("session already exists")
	ErrSessionNotFound = errors.New("session not found")
)

type Storage struct {
	root string
	lock sync.Mutex

	logger *zap.SugaredLogger
}

func New(dir string) (*Storage, error) {
	if dir == "" {
		return nil, fmt.Errorf("storage dir can not be empty")
	}
	s := &Storage{root: dir, logger: utils.GetLogger()}
	if err := util.MkdirAll(dir); err != nil {
		return nil, err
	}
	if err := s.checkInitInfo(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Storage) Close() error {
	return nil
}

func (s *Storage) Root() string {
	return s.root
}

func (s *Storage) ListSessions() ([]*Session, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.listLocked()
}

// GetSession returns nil without error when the session does not exist.
func (s *Storage) GetSession(name string) (*Session, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	list, err := s.listLocked()
	if err != nil {
		return nil, err
	}
	for _, ss := range list {
		if ss.Name == name {
			return ss, nil
		}
	}

	return nil, nil
}

func (s *Storage) NewSession(name, info string) (*Session, error) {
	if _, err := util.SafeJoin(s.root, name); err != nil {
		return nil, err
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	list, err := s.listLocked()
	if err != nil {
		return nil, err
	}
	for _, ss := range list {
		if ss.Name == name {
			return nil, fmt.Errorf("%w: %s", ErrSessionExists, name)
		}
	}
	ss := &Session{
		Name:      name,
		Info:      info,
		CreatedAt: time.Now(),
	}
	ss.attach(s)
	if err = ss.init(); err != nil {
		return nil, err
	}
	list = append(list, ss)
	s.logger.Infof("storage: new session %s", name)

	return ss, s.dumpInfo(list)
}

func (s *Storage) DeleteSession(name string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	list, err := s.listLocked()
	if err != nil {
		return err
	}
	for i, ss := range list {
		if ss.Name != name {
			continue
		}
		if err = ss.Clear(); err != nil {
			return err
		}
		list = append(list[:i], list[i+1:]...)
		s.logger.Infof("storage: deleted session %s", name)
		return s.dumpInfo(list)
	}

	return fmt.Errorf("%w: %s", ErrSessionNotFound, name)
}

func (s *Storage) listLocked() ([]*Session, error) {
	data, err := os.ReadFile(s.infoPath())
	if err != nil {
		return nil, err
	}
	var list []*Session
	if err = json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("unmarshal session list: %w", err)
	}
	for _, ss := range list {
		ss.attach(s)
	}

	return list, nil
}

func (s *Storage) dumpInfo(list []*Session) error {
	f, err := os.Create(s.infoPath())
	if err != nil {
		return err
	}
	defer f.Close()

	return json.NewEncoder(f).Encode(list)
}

func (s *Storage) infoPath() string {
	return filepath.Join(s.root, consts.DefaultInfoFile)
}

func (s *Storage) checkInitInfo() error {
	_, err := os.Stat(s.infoPath())
	if os.IsNotExist(err) {
		return s.dumpInfo(make([]*Session, 0))
	}

	return err
}
