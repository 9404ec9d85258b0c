package sync

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Kind identifies what a WorkItem replays against the CropGuard API.
type Kind string

const (
	// KindUpload carries a captured crop photo plus its metadata.
	KindUpload Kind = "upload"
	// KindAction carries a method/target/body triple recorded offline.
	KindAction Kind = "action"
)

// Priority orders WorkItems within the queue. Higher weight syncs first.
type Priority int

const (
	PriorityLow    Priority = 1
	PriorityNormal Priority = 2
	PriorityHigh   Priority = 3
	PriorityUrgent Priority = 4
)

// Weight returns the ordering weight for batch construction.
func (p Priority) Weight() int { return int(p) }

// String returns a human-readable priority name.
func (p Priority) String() string {
	switch p {
	case PriorityUrgent:
		return "urgent"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// ParsePriority converts a priority name to a Priority.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "urgent":
		return PriorityUrgent, nil
	case "high":
		return PriorityHigh, nil
	case "normal":
		return PriorityNormal, nil
	case "low":
		return PriorityLow, nil
	default:
		return 0, fmt.Errorf("unknown priority %q", s)
	}
}

// Status is the lifecycle state of a WorkItem.
//
// succeeded is terminal. failed is terminal for the pass that exhausted the
// retry budget; a later full sync may pick the item up again if budget
// remains. conflicted items wait for the Resolver or a manual decision.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusInFlight   Status = "in_flight"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusConflicted Status = "conflicted"
)

// WorkItem is one deferred unit of work awaiting submission.
//
// ID never changes across retries and doubles as the idempotency key: the
// server must treat a resubmission with the same ID as a duplicate, so a
// retry after a lost response can never produce two remote effects.
type WorkItem struct {
	ID       string   `json:"id"`
	Kind     Kind     `json:"kind"`
	Priority Priority `json:"priority"`
	Status   Status   `json:"status"`

	// Payload is the opaque data the Transport replays: image bytes for
	// uploads, the request body for actions.
	Payload []byte `json:"payload,omitempty"`

	// Method and Target are set for actions only.
	Method string `json:"method,omitempty"`
	Target string `json:"target,omitempty"`

	// Metadata carries the semantically significant fields compared during
	// conflict detection (field_id, crop, notes, ...).
	Metadata map[string]string `json:"metadata,omitempty"`

	// Attempts counts physical submission attempts and drives backoff.
	Attempts int `json:"attempts"`

	// Override instructs the Transport to tell the server to overwrite its
	// copy. Set by local-wins auto-resolution and by keep_local/merged
	// manual resolutions.
	Override bool `json:"override,omitempty"`

	// CreatedAt is the logical timestamp: FIFO tie-break within a priority
	// class and the local version marker for conflict resolution.
	CreatedAt time.Time `json:"created_at"`

	LastError string `json:"last_error,omitempty"`
}

// NewUpload creates a queued upload WorkItem for captured image bytes.
func NewUpload(payload []byte, metadata map[string]string, priority Priority) *WorkItem {
	return &WorkItem{
		ID:        uuid.NewString(),
		Kind:      KindUpload,
		Priority:  priority,
		Status:    StatusQueued,
		Payload:   payload,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
}

// NewAction creates a queued action WorkItem for a recorded API call.
func NewAction(method, target string, body []byte, priority Priority) *WorkItem {
	return &WorkItem{
		ID:        uuid.NewString(),
		Kind:      KindAction,
		Priority:  priority,
		Status:    StatusQueued,
		Payload:   body,
		Method:    method,
		Target:    target,
		CreatedAt: time.Now().UTC(),
	}
}

// Validate checks that the WorkItem has valid field values.
func (it *WorkItem) Validate() error {
	if it.ID == "" {
		return fmt.Errorf("id is required")
	}
	if it.Kind != KindUpload && it.Kind != KindAction {
		return fmt.Errorf("invalid kind %q", it.Kind)
	}
	if it.Priority < PriorityLow || it.Priority > PriorityUrgent {
		return fmt.Errorf("priority must be between %d and %d (got %d)",
			PriorityLow, PriorityUrgent, it.Priority)
	}
	if it.Kind == KindAction && (it.Method == "" || it.Target == "") {
		return fmt.Errorf("action items require method and target")
	}
	if it.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	return nil
}

// Terminal reports whether the item has reached a terminal status.
func (it *WorkItem) Terminal() bool {
	return it.Status == StatusSucceeded || it.Status == StatusFailed
}

// Snapshot captures the item's conflict-relevant view of the resource.
func (it *WorkItem) Snapshot() Snapshot {
	return Snapshot{
		ItemID:    it.ID,
		Status:    string(it.Status),
		Priority:  it.Priority,
		Metadata:  it.Metadata,
		CreatedAt: it.CreatedAt,
	}
}

// Snapshot is one side of a detected conflict: either the local view derived
// from a WorkItem or the remote view returned by the server on a 409.
type Snapshot struct {
	ItemID    string            `json:"item_id"`
	Status    string            `json:"status"`
	Priority  Priority          `json:"priority"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Resolution states for a ConflictRecord.
type Resolution string

const (
	ResolutionPending    Resolution = "pending"
	ResolutionServerWins Resolution = "auto:server_wins"
	ResolutionLocalWins  Resolution = "auto:local_wins"
	ResolutionManual     Resolution = "manual:applied"
)

// Choice names a manual resolution decision.
type Choice string

const (
	ChoiceKeepLocal     Choice = "keep_local"
	ChoiceKeepRemote    Choice = "keep_remote"
	ChoiceMergedPayload Choice = "merged_payload"
)

// Severity tags for field-level diffs.
const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
)

// FieldDiff is one divergent field between the local and remote snapshots.
type FieldDiff struct {
	Field    string `json:"field"`
	Local    string `json:"local"`
	Remote   string `json:"remote"`
	Severity string `json:"severity"`
}

// ConflictRecord is produced when the Transport reports a conflict. It holds
// a weak back-reference to the WorkItem; resolving it transitions the item
// out of conflicted back into succeeded or a restarted queued.
type ConflictRecord struct {
	ID         string      `json:"id"`
	WorkItemID string      `json:"work_item_id"`
	Local      Snapshot    `json:"local_snapshot"`
	Remote     Snapshot    `json:"remote_snapshot"`
	Diffs      []FieldDiff `json:"field_diffs,omitempty"`
	Resolution Resolution  `json:"resolution"`
	DetectedAt time.Time   `json:"detected_at"`
}

// NewConflictRecord builds a pending record for a work item and the remote
// snapshot the server rejected it with.
func NewConflictRecord(item *WorkItem, remote Snapshot, detectedAt time.Time) *ConflictRecord {
	local := item.Snapshot()
	return &ConflictRecord{
		ID:         uuid.NewString(),
		WorkItemID: item.ID,
		Local:      local,
		Remote:     remote,
		Diffs:      diffSnapshots(local, remote),
		Resolution: ResolutionPending,
		DetectedAt: detectedAt,
	}
}

// diffSnapshots compares the fixed set of semantically significant fields.
// Status divergence is tagged high severity, everything else medium.
func diffSnapshots(local, remote Snapshot) []FieldDiff {
	var diffs []FieldDiff

	if local.Status != remote.Status {
		diffs = append(diffs, FieldDiff{
			Field:    "status",
			Local:    local.Status,
			Remote:   remote.Status,
			Severity: SeverityHigh,
		})
	}

	if local.Priority != remote.Priority {
		diffs = append(diffs, FieldDiff{
			Field:    "priority",
			Local:    local.Priority.String(),
			Remote:   remote.Priority.String(),
			Severity: SeverityMedium,
		})
	}

	seen := make(map[string]bool, len(local.Metadata)+len(remote.Metadata))
	var keys []string
	for k := range local.Metadata {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	for k := range remote.Metadata {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		lv, rv := local.Metadata[k], remote.Metadata[k]
		if lv != rv {
			diffs = append(diffs, FieldDiff{
				Field:    "metadata." + k,
				Local:    lv,
				Remote:   rv,
				Severity: SeverityMedium,
			})
		}
	}

	return diffs
}
