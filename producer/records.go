package producer

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/beevik/etree"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/georgepadayatti/gojal/appmeta"
	"github.com/georgepadayatti/gojal/digest"
	"github.com/georgepadayatti/gojal/manifest"
	"github.com/georgepadayatti/gojal/signature"
	"github.com/georgepadayatti/gojal/status"
	"github.com/georgepadayatti/gojal/xmldoc"
)

// Journal sends an in-memory journal record.
func (c *Context) Journal(ctx context.Context, meta *appmeta.Metadata, buf []byte) error {
	const op = "producer.Journal"
	if c == nil {
		return status.New(status.InvalidArgument, op, "nil context")
	}
	if len(buf) == 0 {
		return status.New(status.InvalidArgument, op, "empty journal payload")
	}
	return c.send(ctx, meta, record{
		kind:    KindJournal,
		payload: buf,
		length:  int64(len(buf)),
		fd:      -1,
		digest: func(m digest.Method) ([]byte, error) {
			return digest.Buffer(buf, m)
		},
	})
}

// JournalFD sends a journal record whose payload is the file behind fd. The
// descriptor's offset is restored and the descriptor stays open. An empty
// file is rejected like an empty Journal buffer.
//
// A descriptor that cannot be seeked yields a BadFileDescriptor error that
// also matches status.ErrInvalidArgument.
func (c *Context) JournalFD(ctx context.Context, meta *appmeta.Metadata, fd int) error {
	const op = "producer.JournalFD"
	if c == nil {
		return status.New(status.InvalidArgument, op, "nil context")
	}
	if fd < 0 {
		return status.New(status.InvalidArgument, op, "negative descriptor %d", fd)
	}
	size, err := fileSize(fd)
	if err != nil {
		return &status.Error{
			Code: status.BadFileDescriptor,
			Op:   op,
			Err:  fmt.Errorf("%w: descriptor %d: %v", status.ErrInvalidArgument, fd, err),
		}
	}
	if size == 0 {
		return status.New(status.InvalidArgument, op, "empty journal file behind descriptor %d", fd)
	}
	return c.send(ctx, meta, record{
		kind:   KindJournal,
		length: size,
		fd:     fd,
		digest: func(m digest.Method) ([]byte, error) {
			return digest.FD(fd, m)
		},
	})
}

func fileSize(fd int) (int64, error) {
	cur, err := unix.Seek(fd, 0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	size, err := unix.Seek(fd, 0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if _, err := unix.Seek(fd, cur, io.SeekStart); err != nil {
		return 0, err
	}
	return size, nil
}

// JournalPath sends the file at path as a journal record.
func (c *Context) JournalPath(ctx context.Context, meta *appmeta.Metadata, path string) error {
	const op = "producer.JournalPath"
	if c == nil {
		return status.New(status.InvalidArgument, op, "nil context")
	}
	if path == "" {
		return status.New(status.InvalidArgument, op, "empty path")
	}
	f, err := os.Open(path)
	if err != nil {
		return status.Wrap(status.InvalidArgument, op, err)
	}
	defer f.Close()
	return c.JournalFD(ctx, meta, int(f.Fd()))
}

// Audit sends an audit record. buf must be an XML audit event; when the
// context has a validator it must also conform to the audit schema. The
// payload digest covers the exclusive canonical form of the event.
func (c *Context) Audit(ctx context.Context, meta *appmeta.Metadata, buf []byte) error {
	const op = "producer.Audit"
	if c == nil {
		return status.New(status.InvalidArgument, op, "nil context")
	}
	if len(buf) == 0 {
		return status.New(status.InvalidArgument, op, "empty audit payload")
	}

	var doc *etree.Document
	if c.validator != nil {
		var err error
		if doc, err = c.validator.ParseAudit(buf); err != nil {
			c.logger.Debug("audit payload rejected", zap.Error(err))
			return err
		}
	}
	canonical := func(m digest.Method) ([]byte, error) {
		if doc == nil {
			var err error
			if doc, err = xmldoc.Parse(buf); err != nil {
				return nil, err
			}
		}
		data, err := signature.Canonicalize(doc.Root())
		if err != nil {
			return nil, status.Wrap(status.Digest, op, err)
		}
		return digest.Buffer(data, m)
	}
	return c.send(ctx, meta, record{
		kind:       KindAudit,
		payload:    buf,
		length:     int64(len(buf)),
		fd:         -1,
		digest:     canonical,
		transforms: manifest.AuditTransforms(),
	})
}

// Log sends a log record. A log record may consist of metadata alone, in
// which case buf may be empty and no manifest is attached.
func (c *Context) Log(ctx context.Context, meta *appmeta.Metadata, buf []byte) error {
	const op = "producer.Log"
	if c == nil {
		return status.New(status.InvalidArgument, op, "nil context")
	}
	if len(buf) == 0 && meta == nil {
		return status.New(status.InvalidArgument, op, "log record needs a payload or metadata")
	}
	r := record{
		kind:    KindLog,
		payload: buf,
		length:  int64(len(buf)),
		fd:      -1,
	}
	if len(buf) > 0 {
		r.digest = func(m digest.Method) ([]byte, error) {
			return digest.Buffer(buf, m)
		}
	}
	return c.send(ctx, meta, r)
}
