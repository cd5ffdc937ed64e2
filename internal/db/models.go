package db

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// Project mirrors the `projects` table (spec.md §3).
type Project struct {
	ProjectID    uuid.UUID
	ProjectName  string
	UIDOwner     string
	Status       string
	StatusTS     time.Time
	StatusReason string
}

// Image mirrors the `images` lookup table resolved by avm_create step 5.
type Image struct {
	ImageKey       string
	SystemImage    string
	DataImage      string
	AndroidVersion string
}

// HWConfig is the AVM hardware-configuration record (spec.md §3): numeric
// display parameters plus seven boolean capability flags.
type HWConfig struct {
	Width      int32 `json:"width"`
	Height     int32 `json:"height"`
	DPI        int32 `json:"dpi"`
	RAMMb      int32 `json:"ram_mb"`
	Sensors    bool  `json:"sensors"`
	Battery    bool  `json:"battery"`
	GPS        bool  `json:"gps"`
	Camera     bool  `json:"camera"`
	Record     bool  `json:"record"`
	GSM        bool  `json:"gsm"`
	NFC        bool  `json:"nfc"`
}

// AVM mirrors the `avms` table.
type AVM struct {
	AVMID        uuid.UUID
	AVMName      string
	UIDOwner     string
	ProjectID    uuid.UUID
	Image        string
	HWConfig     HWConfig
	TestrunID    pgtype.UUID
	StackName    pgtype.Text
	Status       string
	StatusTS     time.Time
	StatusReason string
	TSCreated    time.Time
}

// AVMOTP mirrors the `avm_otps` table: one row per AVM (invariant in spec.md §8).
type AVMOTP struct {
	AVMID     uuid.UUID
	VNCSecret string
}

// Billing mirrors the `billing` table.
type Billing struct {
	AVMID     uuid.UUID
	TSStarted time.Time
	TSStopped pgtype.Timestamptz
}

// Command mirrors the `avm_commands` table.
type Command struct {
	CommandID      uuid.UUID
	AVMID          uuid.UUID
	TSRequest      time.Time
	TSBegin        pgtype.Timestamptz
	TSEnd          pgtype.Timestamptz
	Command        string
	ProcReturnCode pgtype.Int4
	ProcStdout     string
	ProcStderr     string
	Status         string
	StatusReason   string
}

// APK mirrors the `project_apks` table.
type APK struct {
	APKID        uuid.UUID
	ProjectID    uuid.UUID
	Filename     string
	Package      string
	Status       string
	StatusTS     time.Time
	StatusReason string
}

// Camera mirrors the `project_camera` table.
type Camera struct {
	CameraID     uuid.UUID
	ProjectID    uuid.UUID
	Filename     string
	Status       string
	StatusTS     time.Time
	StatusReason string
}

// Testsource mirrors the `project_testsources` table.
type Testsource struct {
	TestsourceID uuid.UUID
	ProjectID    uuid.UUID
	Filename     string
	Content      string
	APKID        pgtype.UUID
	Status       string
	StatusTS     time.Time
}

// Campaign mirrors the `campaigns` table.
type Campaign struct {
	CampaignID   uuid.UUID
	ProjectID    uuid.UUID
	CampaignName string
	Status       string
	StatusTS     time.Time
}

// Testrun mirrors the `testruns` table.
type Testrun struct {
	TestrunID  uuid.UUID
	CampaignID uuid.UUID
	Image      string
	HWConfig   HWConfig
	AVMID      pgtype.UUID
}

// TestrunAPK mirrors the `testrun_apks` table.
type TestrunAPK struct {
	TestrunID    uuid.UUID
	APKID        uuid.UUID
	InstallOrder int32
	CommandID    pgtype.UUID
}

// TestrunPackage mirrors the `testrun_packages` table.
type TestrunPackage struct {
	TestrunID uuid.UUID
	Package   string
	CommandID pgtype.UUID
}
