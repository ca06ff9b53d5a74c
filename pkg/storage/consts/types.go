package consts

const (
	DefaultVideosDir    = "videos"
	DefaultSnapshotsDir = "snapshots"
	DefaultInfoFile     = "info.json"
	DefaultStatsFile    = "stats.json"

	DefaultSnapshotExt = ".jpg"
	DefaultVideoExt    = ".avi"

	DefaultFilePerm = 0666
	DefaultDirPerm  = 0777

	// ms
	MinSnapshotInterval = 100
)
