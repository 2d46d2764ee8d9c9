// Package lhe reads Les Houches Event files as a lazy, single-pass stream of
// events. The reader consumes the header eagerly so that the weight-variation
// count is known before the first event is returned, letting callers validate
// sample shape early.
package lhe

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"lhecore/pkg/domain"
)

// Reader iterates over the events of one LHE file. It is not restartable:
// reopening the file is the only way to iterate again.
type Reader struct {
	path      string
	file      *os.File
	scanner   *bufio.Scanner
	line      int
	weightIDs []string
	done      bool
}

// Open opens path and consumes the file header up to and including </init>.
// IO failures are returned wrapped; structural problems as *domain.FormatError.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open lhe sample: %w", err)
	}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	r := &Reader{path: path, file: f, scanner: sc}
	if err := r.readHeader(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return r, nil
}

// WeightCount returns the weight-variation count declared by the header: the
// number of <initrwgt> weight entries, or one when the file carries only the
// nominal event weight.
func (r *Reader) WeightCount() int {
	if len(r.weightIDs) == 0 {
		return 1
	}
	return len(r.weightIDs)
}

// WeightIDs returns the declared reweighting identifiers, nil for files with
// only the nominal weight.
func (r *Reader) WeightIDs() []string {
	return append([]string(nil), r.weightIDs...)
}

// Close releases the file handle. Safe to call more than once and after an
// iteration error.
func (r *Reader) Close() error {
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// Next returns the next event or io.EOF when the stream is exhausted.
func (r *Reader) Next() (domain.Event, error) {
	if r.done {
		return domain.Event{}, io.EOF
	}
	for r.scan() {
		line := strings.TrimSpace(r.text())
		switch {
		case line == "" || strings.HasPrefix(line, "#"):
			continue
		case strings.HasPrefix(line, "</LesHouchesEvents"):
			r.done = true
			return domain.Event{}, io.EOF
		case strings.HasPrefix(line, "<event"):
			return r.readEvent()
		default:
			// Inter-event markup (generator banners etc.) is ignored.
			continue
		}
	}
	if err := r.scanner.Err(); err != nil {
		return domain.Event{}, fmt.Errorf("read lhe sample %s: %w", r.path, err)
	}
	r.done = true
	return domain.Event{}, io.EOF
}

func (r *Reader) scan() bool {
	ok := r.scanner.Scan()
	if ok {
		r.line++
	}
	return ok
}

func (r *Reader) text() string { return r.scanner.Text() }

func (r *Reader) formatErr(reason string) error {
	return &domain.FormatError{Path: r.path, Line: r.line, Reason: reason}
}

// readHeader scans up to </init>, collecting <initrwgt> weight declarations
// on the way (they may sit inside <header> or inside <init>).
func (r *Reader) readHeader() error {
	sawRoot := false
	sawInit := false
	inRwgt := false
	for r.scan() {
		line := strings.TrimSpace(r.text())
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "<LesHouchesEvents"):
			sawRoot = true
		case strings.HasPrefix(line, "<initrwgt"):
			inRwgt = true
		case strings.HasPrefix(line, "</initrwgt"):
			inRwgt = false
		case inRwgt && strings.HasPrefix(line, "<weight"):
			r.weightIDs = append(r.weightIDs, attrValue(line, "id"))
		case strings.HasPrefix(line, "<init"):
			if !sawRoot {
				return r.formatErr("missing <LesHouchesEvents> root element")
			}
			sawInit = true
		case strings.HasPrefix(line, "</init"):
			if !sawInit {
				return r.formatErr("</init> without <init>")
			}
			return nil
		}
	}
	if err := r.scanner.Err(); err != nil {
		return fmt.Errorf("read lhe sample %s: %w", r.path, err)
	}
	if !sawRoot {
		return r.formatErr("missing <LesHouchesEvents> root element")
	}
	return r.formatErr("missing <init> block")
}

// readEvent parses one <event> block. The opening tag has been consumed.
func (r *Reader) readEvent() (domain.Event, error) {
	if !r.scan() {
		return domain.Event{}, r.formatErr("unterminated event block")
	}
	fields := strings.Fields(strings.TrimSpace(r.text()))
	if len(fields) < 6 {
		return domain.Event{}, r.formatErr("event header has fewer than 6 fields")
	}
	nup, err := strconv.Atoi(fields[0])
	if err != nil || nup < 0 {
		return domain.Event{}, r.formatErr("non-numeric particle count " + fields[0])
	}
	xwgtup, err := parseFloat(fields[2])
	if err != nil {
		return domain.Event{}, r.formatErr("non-numeric event weight " + fields[2])
	}

	particles := make([]domain.Particle, 0, nup)
	for i := 0; i < nup; i++ {
		if !r.scan() {
			return domain.Event{}, r.formatErr("unterminated event block")
		}
		line := strings.TrimSpace(r.text())
		if strings.HasPrefix(line, "<") {
			return domain.Event{}, r.formatErr(fmt.Sprintf("event declares %d particles but has %d particle lines", nup, i))
		}
		particle, err := r.parseParticleLine(line)
		if err != nil {
			return domain.Event{}, err
		}
		particles = append(particles, particle)
	}

	weights, err := r.readEventTail()
	if err != nil {
		return domain.Event{}, err
	}
	if len(weights) == 0 {
		if r.WeightCount() != 1 {
			return domain.Event{}, r.formatErr(fmt.Sprintf("event has no <rwgt> block but header declares %d weight variations", r.WeightCount()))
		}
		weights = []float64{xwgtup}
	} else if len(weights) != r.WeightCount() {
		return domain.Event{}, r.formatErr(fmt.Sprintf("event carries %d weights but header declares %d", len(weights), r.WeightCount()))
	}
	return domain.Event{Particles: particles, Weights: weights}, nil
}

// readEventTail consumes the remainder of the event block up to </event>,
// collecting reweighting values. Nested generator-specific blocks are skipped.
func (r *Reader) readEventTail() ([]float64, error) {
	var weights []float64
	for r.scan() {
		line := strings.TrimSpace(r.text())
		switch {
		case strings.HasPrefix(line, "</event"):
			return weights, nil
		case strings.HasPrefix(line, "<wgt"):
			v, err := r.parseWgtLine(line)
			if err != nil {
				return nil, err
			}
			weights = append(weights, v)
		case strings.HasPrefix(line, "<event"):
			return nil, r.formatErr("nested <event> before </event>")
		}
	}
	if err := r.scanner.Err(); err != nil {
		return nil, fmt.Errorf("read lhe sample %s: %w", r.path, err)
	}
	return nil, r.formatErr("unterminated event block")
}

func (r *Reader) parseParticleLine(line string) (domain.Particle, error) {
	fields := strings.Fields(line)
	if len(fields) < 11 {
		return domain.Particle{}, r.formatErr(fmt.Sprintf("particle line has %d fields, want at least 11", len(fields)))
	}
	pdg, err := strconv.Atoi(fields[0])
	if err != nil {
		return domain.Particle{}, r.formatErr("non-numeric particle id " + fields[0])
	}
	status, err := strconv.Atoi(fields[1])
	if err != nil {
		return domain.Particle{}, r.formatErr("non-numeric status code " + fields[1])
	}
	// PUP order in the record: px py pz E m.
	var mom [4]float64
	for i := 0; i < 4; i++ {
		v, err := parseFloat(fields[6+i])
		if err != nil {
			return domain.Particle{}, r.formatErr("non-numeric momentum field " + fields[6+i])
		}
		mom[i] = v
	}
	return domain.Particle{
		Px:     mom[0],
		Py:     mom[1],
		Pz:     mom[2],
		E:      mom[3],
		PDGID:  pdg,
		Status: domain.ParticleStatus(status),
	}, nil
}

func (r *Reader) parseWgtLine(line string) (float64, error) {
	open := strings.Index(line, ">")
	end := strings.Index(line, "</wgt>")
	if open < 0 || end < 0 || end <= open {
		return 0, r.formatErr("malformed <wgt> entry")
	}
	v, err := parseFloat(strings.TrimSpace(line[open+1 : end]))
	if err != nil {
		return 0, r.formatErr("non-numeric weight value in <wgt> entry")
	}
	return v, nil
}

// parseFloat accepts the Fortran D-exponent notation some generators emit.
func parseFloat(s string) (float64, error) {
	if strings.ContainsAny(s, "dD") {
		s = strings.Map(func(r rune) rune {
			if r == 'd' || r == 'D' {
				return 'E'
			}
			return r
		}, s)
	}
	return strconv.ParseFloat(s, 64)
}

// attrValue extracts a quoted attribute value from a single-line tag; it
// tolerates both single and double quotes.
func attrValue(line, name string) string {
	idx := strings.Index(line, name+"=")
	if idx < 0 {
		return ""
	}
	rest := line[idx+len(name)+1:]
	if len(rest) == 0 {
		return ""
	}
	quote := rest[0]
	if quote != '\'' && quote != '"' {
		return ""
	}
	end := strings.IndexByte(rest[1:], quote)
	if end < 0 {
		return ""
	}
	return rest[1 : 1+end]
}
