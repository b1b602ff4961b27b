// Package history parses the table of past experiment outcomes into records
// aligned with a search space.
package history

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/copyleftdev/paramgen/internal/errors"
	"github.com/copyleftdev/paramgen/internal/naming"
	"github.com/copyleftdev/paramgen/internal/searchspace"
)

const component = "history"

// Record is one historical experiment: a value for every parameter and an
// outcome for every objective, keyed by token.
type Record struct {
	// Row is the zero-based data row in the source table. It is also the
	// trial index the record is replayed as.
	Row        int
	Parameters map[string]float64
	Outcomes   map[string]float64
}

// Table is the parsed history in file order.
type Table struct {
	Records []Record
	// Columns are the header names as they appear in the file.
	Columns []string

	paramTokens     []string
	objectiveTokens []string
}

// Len returns the number of records.
func (t *Table) Len() int {
	return len(t.Records)
}

// Inputs returns one feature vector per record, in search space parameter order.
func (t *Table) Inputs() [][]float64 {
	return t.vectors(t.paramTokens, func(r Record) map[string]float64 { return r.Parameters })
}

// Outcomes returns one outcome vector per record, in objective order.
func (t *Table) Outcomes() [][]float64 {
	return t.vectors(t.objectiveTokens, func(r Record) map[string]float64 { return r.Outcomes })
}

func (t *Table) vectors(tokens []string, pick func(Record) map[string]float64) [][]float64 {
	out := make([][]float64, len(t.Records))
	for i, rec := range t.Records {
		m := pick(rec)
		row := make([]float64, len(tokens))
		for j, tok := range tokens {
			row[j] = m[tok]
		}
		out[i] = row
	}
	return out
}

// Load opens the CSV file at path and parses it against space.
func Load(path string, space *searchspace.SearchSpace) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(errors.KindData, err, "open history %s", path).
			WithComponent(component).WithOperation("Load")
	}
	defer f.Close()
	return Read(f, space)
}

// column is a required field and where it lives in the file.
type column struct {
	token string
	human string
	index int
}

// Read parses CSV history from r. Every parameter and objective of space must
// have exactly one matching column after sanitization; other columns are
// ignored. Records keep file order.
func Read(r io.Reader, space *searchspace.SearchSpace) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, dataErr("header", "", "history table is empty, a header row is required")
	}
	if err != nil {
		return nil, dataErr("header", "", "unreadable header row").WithCause(err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	byToken := make(map[string][]int, len(header))
	for i, h := range header {
		tok := naming.Sanitize(h)
		byToken[tok] = append(byToken[tok], i)
	}

	resolve := func(token, human string) (column, error) {
		idx := byToken[token]
		switch len(idx) {
		case 0:
			return column{}, dataErr("columns", human, fmt.Sprintf("no column matches %q", human))
		case 1:
			return column{token: token, human: human, index: idx[0]}, nil
		default:
			names := make([]string, len(idx))
			for i, j := range idx {
				names[i] = strconv.Quote(header[j])
			}
			return column{}, dataErr("columns", human,
				fmt.Sprintf("columns %s all match %q", strings.Join(names, ", "), human))
		}
	}

	table := &Table{Columns: append([]string(nil), header...)}

	var params, objectives []column
	for _, p := range space.Parameters() {
		c, err := resolve(p.Token, p.Name)
		if err != nil {
			return nil, err
		}
		params = append(params, c)
		table.paramTokens = append(table.paramTokens, p.Token)
	}
	for _, o := range space.Objectives() {
		c, err := resolve(o.Token, o.Name)
		if err != nil {
			return nil, err
		}
		objectives = append(objectives, c)
		table.objectiveTokens = append(table.objectiveTokens, o.Token)
	}

	for row := 0; ; row++ {
		fields, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, dataErr("rows", "", "malformed row").WithRow(row).WithCause(err)
		}
		if len(fields) != len(header) {
			return nil, dataErr("rows", "",
				fmt.Sprintf("row has %d fields, header has %d", len(fields), len(header))).WithRow(row)
		}

		rec := Record{
			Row:        row,
			Parameters: make(map[string]float64, len(params)),
			Outcomes:   make(map[string]float64, len(objectives)),
		}
		for _, c := range params {
			v, err := parseCell(fields[c.index], c, row)
			if err != nil {
				return nil, err
			}
			rec.Parameters[c.token] = v
		}
		for _, c := range objectives {
			v, err := parseCell(fields[c.index], c, row)
			if err != nil {
				return nil, err
			}
			rec.Outcomes[c.token] = v
		}
		table.Records = append(table.Records, rec)
	}

	return table, nil
}

func parseCell(raw string, c column, row int) (float64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, dataErr("cells", c.human, "empty cell").WithRow(row)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, dataErr("cells", c.human, fmt.Sprintf("%q is not numeric", s)).WithRow(row)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, dataErr("cells", c.human, fmt.Sprintf("%q is not finite", s)).WithRow(row)
	}
	return v, nil
}

func dataErr(op, field, msg string) *errors.Error {
	e := errors.New(errors.KindData, msg).WithComponent(component).WithOperation(op)
	if field != "" {
		e.WithField(field)
	}
	return e
}
