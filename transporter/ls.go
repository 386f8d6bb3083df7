package transporter

import (
	"context"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

var ErrUnexpectedOutput = errors.New("unexpected rsync output")
var ErrCommandFailed = errors.New("command failed")

var receivingStatus = map[string]bool{
	"receiving file list ... done":    true,
	"receiving incremental file list": true,
}

type ListOptions struct {
	Target    string
	Tunnel    string
	Recursive bool
	// Long returns the full rsync listing lines instead of file names.
	Long bool
	// Match keeps only file names matching this regular expression.
	Match string
}

// ListFiles lists path on the target host with rsync --list-only.
func ListFiles(ctx context.Context, r Runner, path string, opts ListOptions) ([]string, error) {
	if opts.Target == "" {
		return nil, errors.Wrap(ErrInvalidCommand, "target required")
	}

	var match *regexp.Regexp
	if opts.Match != "" {
		var err error
		if match, err = regexp.Compile(opts.Match); err != nil {
			return nil, errors.Wrapf(err, "invalid match %q", opts.Match)
		}
	}

	options := []string{"-avz", "--list-only"}
	if !opts.Recursive {
		options = append(options, "--no-recursive")
	}

	argv, err := RsyncCommand(remoteShell(opts.Tunnel), options...)
	if err != nil {
		return nil, err
	}
	argv = append(argv, RemotePath(opts.Target, path))

	it, err := Iterate(ctx, r, argv)
	if err != nil {
		return nil, err
	}

	files, perr := parseListing(it, match, opts.Long)
	code, err := it.Close()
	if err != nil {
		return nil, err
	}
	if code != 0 {
		return nil, errors.Wrapf(ErrCommandFailed, "rsync exited with return code %d", code)
	}
	if perr != nil {
		return nil, perr
	}
	return files, nil
}

func parseListing(it *CommandIter, match *regexp.Regexp, long bool) ([]string, error) {
	if !it.Next() {
		return nil, errors.Wrap(ErrUnexpectedOutput, "no output")
	}
	if first := it.Line(); !receivingStatus[first] {
		return nil, errors.Wrapf(ErrUnexpectedOutput, "received: %q", first)
	}

	var files []string
	for it.Next() {
		line := it.Line()
		fields := strings.Fields(line)
		if len(fields) < 5 {
			break
		}

		// permissions, size, date, time, then the name which may contain spaces
		name := nameField(line)
		if match != nil && !match.MatchString(name) {
			continue
		}

		if long {
			files = append(files, line)
		} else {
			files = append(files, name)
		}
	}
	return files, nil
}

func nameField(line string) string {
	s := strings.TrimLeft(line, " \t")
	for i := 0; i < 4; i++ {
		s = strings.TrimLeft(s, " \t")
		if j := strings.IndexAny(s, " \t"); j >= 0 {
			s = s[j:]
		}
	}
	return strings.TrimLeft(s, " \t")
}
