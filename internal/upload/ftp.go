package upload

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/jlaffaye/ftp"
)

const ftpTimeout = 10 * time.Second

// FTP stores files on a remote FTP server. Each call opens its own
// connection so concurrent uploads never share a control channel.
type FTP struct {
	addr     string
	user     string
	password string
	baseURL  string
}

func NewFTP(addr, user, password, baseURL string) *FTP {
	return &FTP{addr: addr, user: user, password: password, baseURL: baseURL}
}

func (f *FTP) connect(ctx context.Context) (*ftp.ServerConn, error) {
	conn, err := ftp.Dial(f.addr, ftp.DialWithTimeout(ftpTimeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("%w: dial ftp: %v", ErrBackend, err)
	}
	if err := conn.Login(f.user, f.password); err != nil {
		_ = conn.Quit()
		return nil, fmt.Errorf("%w: ftp login: %v", ErrBackend, err)
	}
	return conn, nil
}

func (f *FTP) Upload(ctx context.Context, folder, name string, data []byte) (Result, error) {
	p, err := objectPath(folder, name)
	if err != nil {
		return Result{}, err
	}
	conn, err := f.connect(ctx)
	if err != nil {
		return Result{}, err
	}
	defer conn.Quit()

	// MakeDir fails when the folder already exists; Stor reports the real problem.
	_ = conn.MakeDir(folder)
	if err := conn.Stor(p, bytes.NewReader(data)); err != nil {
		return Result{}, fmt.Errorf("%w: ftp stor: %v", ErrBackend, err)
	}
	return Result{URL: f.URL(p), Path: p}, nil
}

func (f *FTP) Delete(ctx context.Context, p string) error {
	conn, err := f.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Quit()
	if err := conn.Delete(p); err != nil {
		return fmt.Errorf("%w: ftp delete: %v", ErrBackend, err)
	}
	return nil
}

func (f *FTP) URL(p string) string { return joinURL(f.baseURL, p) }
