// Package inventory formats reconciliation output into stable,
// machine-parseable artifacts: an Ansible-style inventory line and a
// human-readable connection summary. Pure formatting; the only failure
// mode is sink I/O, which is surfaced, never swallowed.
package inventory

import (
	"fmt"
	"io"
)

// Line renders the inventory entry for a running instance. Field order
// is fixed so repeated calls are byte-for-byte identical and the file
// diffs cleanly.
func Line(name, publicAddress, user string) string {
	return fmt.Sprintf("%s ansible_host=%s ansible_user=%s", name, publicAddress, user)
}

// Record is the writer's view of one reconciled instance.
type Record struct {
	Name          string
	ProviderID    string
	PublicAddress string
	User          string
	KeyName       string
}

// SinkError wraps a failed artifact write. The provider-side action has
// already completed when this happens; the cloud resource exists whether
// or not the file was written, so callers must not compensate by
// terminating anything.
type SinkError struct {
	Sink string
	Err  error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("failed to write %s artifact: %v", e.Sink, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }

// Writer emits connection artifacts to caller-supplied sinks. Either
// sink may be nil to skip that artifact.
type Writer struct {
	Inventory io.Writer
	Info      io.Writer
}

// NewWriter creates a writer over the given sinks.
func NewWriter(inventory, info io.Writer) *Writer {
	return &Writer{Inventory: inventory, Info: info}
}

// Write emits the inventory line and connection summary for one record.
func (w *Writer) Write(rec Record) error {
	if w.Inventory != nil {
		if _, err := fmt.Fprintf(w.Inventory, "%s\n", Line(rec.Name, rec.PublicAddress, rec.User)); err != nil {
			return &SinkError{Sink: "inventory", Err: err}
		}
	}
	if w.Info != nil {
		if err := w.writeInfo(rec); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) writeInfo(rec Record) error {
	ssh := fmt.Sprintf("ssh %s@%s", rec.User, rec.PublicAddress)
	if rec.KeyName != "" {
		ssh = fmt.Sprintf("ssh -i %s.pem %s@%s", rec.KeyName, rec.User, rec.PublicAddress)
	}
	_, err := fmt.Fprintf(w.Info,
		"instance: %s\nid: %s\npublic_address: %s\nconnect: %s\n\n",
		rec.Name, rec.ProviderID, rec.PublicAddress, ssh)
	if err != nil {
		return &SinkError{Sink: "connection-info", Err: err}
	}
	return nil
}
