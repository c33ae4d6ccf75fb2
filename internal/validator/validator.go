package validator

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	// SampleSize is how many data rows get schema-checked up front. The rest
	// of the file is read to count rows and to check UTF-8 decoding.
	SampleSize = 100

	// MaxFileSizeMB caps the validated file size.
	MaxFileSizeMB = 100

	maxRowErrors = 10
)

var (
	requiredHeaders = []string{"sku", "name"}
	optionalHeaders = []string{"description", "active"}
)

// Result reports the outcome of a pre-flight validation pass.
type Result struct {
	OK          bool     `json:"ok"`
	Errors      []string `json:"errors"`
	TotalRows   int64    `json:"total_rows"`
	SampledRows int      `json:"sampled_rows"`
}

// Validate runs the pre-import checks on an uploaded CSV: extension, size,
// UTF-8 decoding, header presence, required headers, and a schema check of
// the first SampleSize data rows. Unknown headers produce warnings prefixed
// "Warning:", which do not fail validation. TotalRows is the full data-row
// count.
func Validate(path string) Result {
	var errs []string

	if !strings.EqualFold(filepath.Ext(path), ".csv") {
		return failed(fmt.Sprintf("Invalid file extension: %s. Expected .csv", filepath.Ext(path)))
	}

	info, err := os.Stat(path)
	if err != nil {
		return failed(fmt.Sprintf("File not found: %s", path))
	}
	sizeMB := float64(info.Size()) / (1024 * 1024)
	if sizeMB > MaxFileSizeMB {
		return failed(fmt.Sprintf("File size (%.2f MB) exceeds maximum allowed size (%d MB)", sizeMB, MaxFileSizeMB))
	}

	f, err := os.Open(path)
	if err != nil {
		return failed(fmt.Sprintf("Failed to open file: %v", err))
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return failed("CSV file is empty or has no headers")
	}
	if err != nil {
		return failed(fmt.Sprintf("CSV parsing error: %v", err))
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		if !utf8.ValidString(h) {
			return failed("File encoding error: header is not valid UTF-8. File must be UTF-8 encoded")
		}
		cols[name] = i
	}

	var missing []string
	for _, h := range requiredHeaders {
		if _, ok := cols[h]; !ok {
			missing = append(missing, h)
		}
	}
	if len(missing) > 0 {
		found := make([]string, 0, len(cols))
		for h := range cols {
			found = append(found, h)
		}
		sort.Strings(found)
		return failed(fmt.Sprintf("Missing required headers: %s. Found: %s",
			strings.Join(missing, ", "), strings.Join(found, ", ")))
	}

	allowed := make(map[string]bool, len(requiredHeaders)+len(optionalHeaders))
	for _, h := range requiredHeaders {
		allowed[h] = true
	}
	for _, h := range optionalHeaders {
		allowed[h] = true
	}
	var unknown []string
	for h := range cols {
		if !allowed[h] {
			unknown = append(unknown, h)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		errs = append(errs, fmt.Sprintf("Warning: Unknown headers will be ignored: %s", strings.Join(unknown, ", ")))
	}

	sampled := 0
	rowErrors := 0
	var total int64

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return failed(fmt.Sprintf("CSV parsing error: %v", err))
		}
		total++

		// Decoding must be UTF-8 for the whole file, not just the sampled
		// prefix.
		for _, cell := range record {
			if !utf8.ValidString(cell) {
				return failed(fmt.Sprintf("File encoding error: row %d is not valid UTF-8. File must be UTF-8 encoded", total))
			}
		}

		if sampled >= SampleSize || rowErrors >= maxRowErrors {
			continue
		}
		sampled++

		rowErrs := checkRow(record, cols, sampled)
		errs = append(errs, rowErrs...)
		rowErrors += len(rowErrs)
		if rowErrors >= maxRowErrors {
			errs = append(errs, "Validation stopped after 10 errors. Please fix these issues and retry.")
		}
	}

	ok := true
	for _, e := range errs {
		if !strings.HasPrefix(e, "Warning:") {
			ok = false
			break
		}
	}

	return Result{OK: ok, Errors: errs, TotalRows: total, SampledRows: sampled}
}

func checkRow(record []string, cols map[string]int, rowNum int) []string {
	var errs []string
	cell := func(name string) (string, bool) {
		i, ok := cols[name]
		if !ok || i >= len(record) {
			return "", false
		}
		return record[i], true
	}

	if sku, _ := cell("sku"); strings.TrimSpace(sku) == "" {
		errs = append(errs, fmt.Sprintf("Row %d, field 'sku': value must not be empty", rowNum))
	}
	if name, _ := cell("name"); strings.TrimSpace(name) == "" {
		errs = append(errs, fmt.Sprintf("Row %d, field 'name': value must not be empty", rowNum))
	}
	if active, ok := cell("active"); ok && strings.TrimSpace(active) != "" {
		if _, err := ParseBool(active); err != nil {
			errs = append(errs, fmt.Sprintf("Row %d, field 'active': %v", rowNum, err))
		}
	}
	return errs
}

// ParseBool applies the import coercion table: {true, yes, 1, t, y} and
// {false, no, 0, f, n}, case-insensitive.
func ParseBool(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "yes", "1", "t", "y":
		return true, nil
	case "false", "no", "0", "f", "n":
		return false, nil
	}
	return false, fmt.Errorf("cannot parse %q as boolean", value)
}

func failed(msg string) Result {
	return Result{OK: false, Errors: []string{msg}}
}
