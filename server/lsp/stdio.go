package lsp

import (
	"errors"
	"io"
)

// Stdio joins the process's standard streams into one ReadWriteCloser:
// requests are read from Stdin and responses written to Stdout.
type Stdio struct {
	Stdin  io.ReadCloser
	Stdout io.WriteCloser
}

func NewStdio(stdin io.ReadCloser, stdout io.WriteCloser) *Stdio {
	return &Stdio{
		Stdin:  stdin,
		Stdout: stdout,
	}
}

func (rwc *Stdio) Read(p []byte) (int, error) {
	return rwc.Stdin.Read(p)
}

func (rwc *Stdio) Write(p []byte) (int, error) {
	return rwc.Stdout.Write(p)
}

func (rwc *Stdio) Close() error {
	inErr := rwc.Stdin.Close()
	outErr := rwc.Stdout.Close()
	if inErr != nil || outErr != nil {
		return errors.Join(inErr, outErr)
	}
	return nil
}
