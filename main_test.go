package main

import (
	"bytes"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nixxel-company-limited/escpos-ticket-printer/model"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeBuffer(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(base64.StdEncoding.EncodeToString(data)), 0o644))
	return path
}

func TestDecodeCommand(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := writeBuffer(t, dir, "ticket.b64", []byte{0x1B, 0x40, 'H', 'i', 0x0A, 0x1D, 'V', 'A', 0x00})

	out, err := run(t, "decode", path)
	require.NoError(t, err)
	assert.Contains(t, out, "[ESC]@Hi\n[GS]VA")
}

func TestDecodeCommandAgainst(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	a := writeBuffer(t, dir, "a.b64", []byte("Total 100\n"))
	b := writeBuffer(t, dir, "b.b64", []byte("Total 120\n"))

	out, err := run(t, "decode", a, "--against", b)
	require.NoError(t, err)
	assert.Contains(t, out, "Total 1")
}

func TestDecodeCommandInvalidInput(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "bad.b64")
	require.NoError(t, os.WriteFile(path, []byte("%%%"), 0o644))

	_, err := run(t, "decode", path)
	var ee *exitErr
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, exitInvalid, ee.code)
}

func TestInvalidConfigExitCode(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("TICKETPRINT_TICKET_COPIES_COUNT", "9")

	_, err := run(t, "methods")
	var ee *exitErr
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, exitInvalid, ee.code)
	assert.Contains(t, ee.msg, "ticket.copies_count")
}

func TestErrorsPrintedOnce(t *testing.T) {
	t.Chdir(t.TempDir())

	out, err := run(t, "print", "abc")
	require.Error(t, err)
	assert.NotContains(t, out, "Error:")
	assert.Equal(t, exitInvalid, exitCode(err))

	_, err = run(t, "print", "1", "--no-such-flag")
	require.Error(t, err)
	assert.Equal(t, exitGeneric, exitCode(err))
}

func TestPrintRejectsBadSaleID(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := run(t, "print", "abc")
	var ee *exitErr
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, exitInvalid, ee.code)
}

func TestTicketOverrides(t *testing.T) {
	newCmd := func() *cobra.Command {
		cmd := &cobra.Command{}
		cmd.Flags().Int("copies", 1, "")
		return cmd
	}
	base := model.TicketConfig{PrintMethod: "preview", CopiesCount: 2}

	cmd := newCmd()
	got, err := ticketOverrides(cmd, base, "", 0)
	require.NoError(t, err)
	assert.Equal(t, base, got)

	cmd = newCmd()
	require.NoError(t, cmd.Flags().Set("copies", "4"))
	got, err = ticketOverrides(cmd, base, "Serial", 4)
	require.NoError(t, err)
	assert.Equal(t, 4, got.CopiesCount)
	assert.Equal(t, model.MethodSerial, got.Method())

	_, err = ticketOverrides(newCmd(), base, "carrier-pigeon", 0)
	assert.ErrorContains(t, err, "unknown print method")

	cmd = newCmd()
	require.NoError(t, cmd.Flags().Set("copies", "6"))
	_, err = ticketOverrides(cmd, base, "", 6)
	assert.ErrorContains(t, err, "--copies")
}

func TestParseSaleID(t *testing.T) {
	id, err := parseSaleID("1024")
	require.NoError(t, err)
	assert.EqualValues(t, 1024, id)

	for _, bad := range []string{"", "0", "-3", "12a"} {
		_, err := parseSaleID(bad)
		assert.Error(t, err, bad)
	}
}

func TestPortOf(t *testing.T) {
	p, err := portOf("localhost:9100")
	require.NoError(t, err)
	assert.Equal(t, 9100, p)

	_, err = portOf("localhost")
	assert.Error(t, err)
}
