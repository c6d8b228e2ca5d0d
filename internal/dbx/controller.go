package dbx

import (
	"fmt"
	"time"
)

// VersionController glues the change detector to the version list: each
// canonical notification becomes one version list mutation, and the Idle
// signal is the quiescence point at which the list is flushed to disk.
type VersionController struct {
	list    *VersionList
	path    string
	journal Journal
	logger  Logger

	batch int64 // notifications applied since the last idle boundary
}

// NewVersionController creates a controller persisting the list at path.
func NewVersionController(list *VersionList, path string, journal Journal, logger Logger) *VersionController {
	return &VersionController{
		list:    list,
		path:    path,
		journal: journal,
		logger:  logger,
	}
}

// List returns the underlying version list.
func (c *VersionController) List() *VersionList { return c.list }

// Apply maps one detector notification to the matching version list
// operation.
func (c *VersionController) Apply(n Notification) error {
	var err error
	switch n.Type {
	case EventCreated:
		c.list.Create(n.Name, n.IsDirectory, n.When)
	case EventChanged:
		err = c.list.Change(n.Name, n.SHA1, n.Size, n.When)
	case EventRenamed:
		err = c.list.Rename(n.Name, n.OldName, n.SHA1, n.Size, n.When)
	case EventDeleted:
		err = c.list.Delete(n.Name, n.When)
	default:
		err = fmt.Errorf("%w: unknown notification type %q", ErrInvariant, n.Type)
	}
	if err != nil {
		return err
	}
	c.batch++
	c.logger.Debug("event applied", "type", string(n.Type), "name", n.Name)
	return nil
}

// Idle flushes the version list and journals the completed batch. Flush
// failures are surfaced via the log: the on-disk list lags in-memory state
// until the next idle boundary succeeds.
func (c *VersionController) Idle() {
	if c.batch == 0 {
		return
	}
	n := c.batch
	c.batch = 0

	if err := c.Flush(); err != nil {
		c.logger.Error("flush failed", "error", err)
		return
	}
	if err := c.journal.Record(JournalEntry{
		Operation: "DetectorBatch",
		Events:    n,
		Outcome:   "ok",
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		c.logger.Warn("journal write failed", "error", err)
	}
}

// Flush writes the serialized version list to its file atomically.
func (c *VersionController) Flush() error {
	if err := c.list.Save(c.path); err != nil {
		return fmt.Errorf("flushing version list: %w", err)
	}
	return nil
}
