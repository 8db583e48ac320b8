package transport

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/luma/protoip/protocol"
)

var ErrInvalidFileName = errors.New("protoip: invalid file name")

// TransmitFile sends the file at path as three transfers (name, size,
// content) bracketed by FTS and FTE.
func (s *Stream) TransmitFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("transmit file: %w", err)
	}

	if info.IsDir() {
		return fmt.Errorf("transmit file: %s is a directory", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("transmit file: %w", err)
	}

	if err := s.writeFrame(protocol.NewControl(protocol.KindFTS)); err != nil {
		return fmt.Errorf("send start of file: %w", err)
	}

	if _, err := s.expect(protocol.KindAck); err != nil {
		return fmt.Errorf("await start of file ack: %w", err)
	}

	if err := s.TransmitString(info.Name()); err != nil {
		return fmt.Errorf("send file name: %w", err)
	}

	if err := s.TransmitString(strconv.Itoa(len(data))); err != nil {
		return fmt.Errorf("send file size: %w", err)
	}

	if err := s.Transmit(data); err != nil {
		return fmt.Errorf("send file content: %w", err)
	}

	if err := s.writeFrame(protocol.NewControl(protocol.KindFTE)); err != nil {
		return fmt.Errorf("send end of file: %w", err)
	}

	if _, err := s.expect(protocol.KindAck); err != nil {
		return fmt.Errorf("await end of file ack: %w", err)
	}

	s.log.Debug("Transmitted file",
		zap.String("name", info.Name()),
		zap.Int("bytes", len(data)))

	return nil
}

// ReceiveFile receives a file sent with TransmitFile and writes it into dir.
// It returns the path written.
func (s *Stream) ReceiveFile(dir string) (string, error) {
	if _, err := s.expect(protocol.KindFTS); err != nil {
		return "", fmt.Errorf("await start of file: %w", err)
	}

	return s.receiveFileFrom(dir)
}

func (s *Stream) receiveFileFrom(dir string) (string, error) {
	if err := s.writeFrame(protocol.NewControl(protocol.KindAck)); err != nil {
		return "", fmt.Errorf("ack start of file: %w", err)
	}

	if err := s.Receive(); err != nil {
		return "", fmt.Errorf("receive file name: %w", err)
	}

	name, err := s.DataAsText()
	if err != nil {
		return "", err
	}

	if err := s.Receive(); err != nil {
		return "", fmt.Errorf("receive file size: %w", err)
	}

	rawSize, err := s.DataAsText()
	if err != nil {
		return "", err
	}

	if err := s.Receive(); err != nil {
		return "", fmt.Errorf("receive file content: %w", err)
	}

	data, err := s.Data()
	if err != nil {
		return "", err
	}

	if _, err := s.expect(protocol.KindFTE); err != nil {
		return "", fmt.Errorf("await end of file: %w", err)
	}

	size, err := strconv.Atoi(strings.TrimSpace(rawSize))
	if err != nil {
		return "", fmt.Errorf("parse file size %q: %w", rawSize, protocol.ErrInvalidFrame)
	}

	if size != len(data) {
		return "", fmt.Errorf("file %q announced %d bytes, received %d: %w",
			name, size, len(data), protocol.ErrInvalidFrame)
	}

	if err := validateFileName(name); err != nil {
		return "", err
	}

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0640); err != nil {
		return "", fmt.Errorf("store received file: %w", err)
	}

	if err := s.writeFrame(protocol.NewControl(protocol.KindAck)); err != nil {
		return "", fmt.Errorf("ack end of file: %w", err)
	}

	s.log.Debug("Received file",
		zap.String("path", path),
		zap.Int("bytes", len(data)))

	return path, nil
}

func validateFileName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return fmt.Errorf("%q: %w", name, ErrInvalidFileName)
	}

	return nil
}
