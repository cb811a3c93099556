package ftp

import (
	"bytes"
	"io"
	"os"
)

// statSize returns the size in bytes of the file at path.
func statSize(path string) (int64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// openSink returns the destination a download worker writes to: a file
// opened at t.LocalPath (truncated, or appended to if resuming from a
// nonzero offset) or an in-memory buffer when LocalPath is empty. The
// returned bytes.Buffer is nil when writing to a file.
func (tm *TransferManager) openSink(t *Transfer) (io.Writer, *bytes.Buffer, func(), error) {
	if t.LocalPath == "" {
		buf := &bytes.Buffer{}
		return buf, buf, nil, nil
	}

	flags := os.O_WRONLY | os.O_CREATE
	if t.Offset > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(t.LocalPath, flags, 0644)
	if err != nil {
		return nil, nil, nil, &ConnectionError{Op: "open local file", Err: err}
	}
	return f, nil, func() { f.Close() }, nil
}

// openSource returns the source an upload/append worker reads from: the
// in-memory uploadData (sliced at Offset) when set, or a file opened at
// LocalPath and seeked to Offset.
func (tm *TransferManager) openSource(t *Transfer) (io.Reader, func(), error) {
	if t.uploadData != nil {
		data := t.uploadData
		if t.Offset > 0 && t.Offset <= int64(len(data)) {
			data = data[t.Offset:]
		}
		return bytes.NewReader(data), nil, nil
	}

	f, err := os.Open(t.LocalPath)
	if err != nil {
		return nil, nil, &ConnectionError{Op: "open local file", Err: err}
	}
	if t.Offset > 0 {
		if _, err := f.Seek(t.Offset, io.SeekStart); err != nil {
			f.Close()
			return nil, nil, &ConnectionError{Op: "seek local file", Err: err}
		}
	}
	return f, func() { f.Close() }, nil
}
