package carton

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// DefaultMarkerContainer is the internal container holding the
// modification marker unless overridden via Options or
// SetMarkerContainerName.
const DefaultMarkerContainer = "_carton_modified"

// markerField is the single field of the marker record.
const markerField = "modified"

// markerKey is the fixed key of the singleton marker record. The
// record is overwritten in place, never appended.
const markerKey uint64 = 1

// modTracker maintains the modification marker: a singleton record
// holding the timestamp of the last structural change, written inside
// the same upgrade transaction as the change itself.
type modTracker struct {
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	container string
	timezone  string
}

func newModTracker(logger *slog.Logger, now func() time.Time) *modTracker {
	if now == nil {
		now = time.Now
	}
	return &modTracker{
		logger:    logger,
		now:       now,
		container: DefaultMarkerContainer,
		timezone:  "UTC",
	}
}

func (m *modTracker) containerName() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.container
}

// setContainerName overrides the marker container name. Blank names
// are silently ignored.
func (m *modTracker) setContainerName(name string) {
	if isBlankString(name) {
		return
	}
	m.mu.Lock()
	m.container = name
	m.mu.Unlock()
}

// setTimezone validates tz against the host's timezone database and
// adopts it on success. Returns false, without raising, on an unknown
// timezone.
func (m *modTracker) setTimezone(tz string) bool {
	if _, err := time.LoadLocation(tz); err != nil {
		return false
	}
	m.mu.Lock()
	m.timezone = tz
	m.mu.Unlock()
	return true
}

func (m *modTracker) timestamp() (string, error) {
	m.mu.Lock()
	tz := m.timezone
	m.mu.Unlock()
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return "", err
	}
	return m.now().In(loc).Format(time.RFC3339), nil
}

// touch overwrites the marker record with the current timestamp. Must
// be called from inside an active upgrade transaction so the marker
// write commits or rolls back together with the structural change.
//
// A timestamp formatting failure is reported but does not abort the
// structural change; the marker write is best-effort relative to it.
func (m *modTracker) touch(utx UpgradeTxn) error {
	ts, err := m.timestamp()
	if err != nil {
		m.logger.Warn("skipping modification marker update", "error", err)
		return nil
	}
	name := m.containerName()
	var c Container
	if utx.HasContainer(name) {
		c, err = utx.Container(name)
	} else {
		c, err = utx.CreateContainer(name)
	}
	if err != nil {
		return err
	}
	return c.Put(markerKey, Record{markerField: ts})
}

// read returns the stored marker timestamp, or ok=false if the marker
// container does not exist or holds no record.
func (m *modTracker) read(conn Conn) (string, bool, error) {
	tx, err := conn.Begin(false)
	if err != nil {
		return "", false, err
	}
	defer tx.Abort()

	c, err := tx.Container(m.containerName())
	if err != nil {
		if errors.Is(err, ErrNoSuchContainer) {
			return "", false, nil
		}
		return "", false, err
	}
	rec, err := c.Get(markerKey)
	if err != nil {
		return "", false, err
	}
	if rec == nil {
		return "", false, nil
	}
	ts, ok := rec[markerField].(string)
	return ts, ok, nil
}
