package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"

	"iidc-capture/pkg/movie"
	"iidc-capture/pkg/storage/consts"
	"iidc-capture/pkg/storage/util"
	"iidc-capture/pkg/types"
)

type Session struct {
	Name string `json:"name"`
	Info string `json:"info,omitempty"`

	CreatedAt time.Time `json:"createdAt"`

	rootDir string
	// guards the snapshot index; shared by every Session value of a Storage
	lock *sync.Mutex
}

type SnapshotsInfo struct {
	MaxNumber      int    `json:"maxNumber"`
	LatestSnapshot string `json:"latestSnapshot"`

	UpdateAt time.Time `json:"updateAt"`
}

var snapshotLocks sync.Map

func (ss *Session) attach(s *Storage) {
	ss.rootDir = filepath.Join(s.root, ss.Name)
	l, _ := snapshotLocks.LoadOrStore(ss.rootDir, &sync.Mutex{})
	ss.lock = l.(*sync.Mutex)
}

func (ss *Session) init() error {
	err := util.MkdirAll(
		ss.snapshotDir(),
		ss.videoDir(),
	)
	if err != nil {
		return err
	}

	return ss.dumpSnapshotsInfo(&SnapshotsInfo{})
}

func (ss *Session) Dir() string {
	return ss.rootDir
}

// MoviePath is where the camera with the given device index records.
func (ss *Session) MoviePath(device int) string {
	return filepath.Join(ss.videoDir(), fmt.Sprintf("cam%d%s", device, consts.DefaultVideoExt))
}

// SaveSnapshot stores a JPEG image and returns its file name.
func (ss *Session) SaveSnapshot(image []byte) (string, error) {
	ss.lock.Lock()
	defer ss.lock.Unlock()

	info, err := ss.loadSnapshotsInfo()
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s-%d%s", ss.Name, info.MaxNumber, consts.DefaultSnapshotExt)
	if err = os.WriteFile(filepath.Join(ss.snapshotDir(), name), image, consts.DefaultFilePerm); err != nil {
		return "", err
	}

	info.MaxNumber++
	info.LatestSnapshot = name
	if err = ss.dumpSnapshotsInfo(info); err != nil {
		return "", err
	}

	return name, nil
}

func (ss *Session) LatestSnapshotName() (string, error) {
	ss.lock.Lock()
	defer ss.lock.Unlock()

	info, err := ss.loadSnapshotsInfo()
	if err != nil {
		return "", err
	}

	return info.LatestSnapshot, nil
}

func (ss *Session) LatestSnapshot() ([]byte, error) {
	name, err := ss.LatestSnapshotName()
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, fmt.Errorf("session %s has no snapshots", ss.Name)
	}

	return ss.GetSnapshot(name)
}

func (ss *Session) GetSnapshot(name string) ([]byte, error) {
	p, err := util.SafeJoin(ss.snapshotDir(), name)
	if err != nil {
		return nil, err
	}
	file, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("snapshot not found, %w", err)
	}

	return file, nil
}

func (ss *Session) ListSnapshots() ([]string, error) {
	files, err := os.ReadDir(ss.snapshotDir())
	if err != nil {
		return nil, err
	}
	var res []string
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		if !strings.HasSuffix(file.Name(), consts.DefaultSnapshotExt) {
			continue
		}
		res = append(res, file.Name())
	}

	return res, nil
}

// ListRecordings lists the movies of the session ordered by device index.
func (ss *Session) ListRecordings() ([]types.Recording, error) {
	files, err := os.ReadDir(ss.videoDir())
	if err != nil {
		return nil, err
	}
	var res []types.Recording
	for _, file := range files {
		name := file.Name()
		if file.IsDir() || !strings.HasSuffix(name, consts.DefaultVideoExt) {
			continue
		}
		var device int
		if _, err := fmt.Sscanf(name, "cam%d"+consts.DefaultVideoExt, &device); err != nil {
			continue
		}
		info, err := file.Info()
		if err != nil {
			return nil, err
		}
		r := types.Recording{
			File: types.File{
				Name:    name,
				Size:    humanize.Bytes(uint64(info.Size())),
				Bytes:   info.Size(),
				ModTime: info.ModTime(),
			},
			Device: device,
		}
		if _, err := os.Stat(filepath.Join(ss.videoDir(), name+movie.TimestampSuffix)); err == nil {
			r.Timestamps = name + movie.TimestampSuffix
		}
		res = append(res, r)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Device < res[j].Device })

	return res, nil
}

// DumpStats writes the final statistics of the session's devices.
func (ss *Session) DumpStats(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(ss.rootDir, consts.DefaultStatsFile), data, consts.DefaultFilePerm)
}

// Clear removes the session directory with everything recorded in it.
func (ss *Session) Clear() error {
	return os.RemoveAll(ss.rootDir)
}

func (ss *Session) loadSnapshotsInfo() (*SnapshotsInfo, error) {
	data, err := os.ReadFile(ss.snapshotsInfoPath())
	if err != nil {
		return nil, fmt.Errorf("read snapshot info err: %w", err)
	}
	info := &SnapshotsInfo{}
	if err = json.Unmarshal(data, info); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot info err: %w", err)
	}

	return info, nil
}

func (ss *Session) dumpSnapshotsInfo(info *SnapshotsInfo) error {
	info.UpdateAt = time.Now()
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}

	return os.WriteFile(ss.snapshotsInfoPath(), data, consts.DefaultFilePerm)
}

func (ss *Session) snapshotsInfoPath() string {
	return filepath.Join(ss.snapshotDir(), consts.DefaultInfoFile)
}

func (ss *Session) snapshotDir() string {
	return filepath.Join(ss.rootDir, consts.DefaultSnapshotsDir)
}

func (ss *Session) videoDir() string {
	return filepath.Join(ss.rootDir, consts.DefaultVideosDir)
}
