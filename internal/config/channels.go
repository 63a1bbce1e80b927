package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Harryoung/efka-sub000/internal/models"
	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"
)

// ExpertsFile is the YAML layout of the expert roster
type ExpertsFile struct {
	Experts []models.Expert `yaml:"experts" validate:"dive"`
}

// rosterColumns are the expected .xlsx header cells, matched case-insensitively
var rosterColumns = []string{"id", "name", "channel", "user_id", "domains", "default"}

// LoadExperts reads the expert roster from a .yaml/.yml or .xlsx file.
// A missing file yields an empty roster.
func LoadExperts(path string) ([]models.Expert, error) {
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}

	var experts []models.Expert
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		experts, err = loadExpertsYAML(path)
	case ".xlsx":
		experts, err = loadExpertsXLSX(path)
	default:
		return nil, fmt.Errorf("unsupported expert roster format: %s", path)
	}
	if err != nil {
		return nil, err
	}

	for i := range experts {
		experts[i].Channel = models.Channel(strings.ToLower(strings.TrimSpace(string(experts[i].Channel))))
		if err := configValidate.Struct(experts[i]); err != nil {
			return nil, fmt.Errorf("expert #%d (%s): %w", i+1, experts[i].ID, err)
		}
	}
	return experts, nil
}

func loadExpertsYAML(path string) ([]models.Expert, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read expert roster: %w", err)
	}
	var file ExpertsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse expert roster YAML: %w", err)
	}
	return file.Experts, nil
}

// loadExpertsXLSX reads the first sheet; the first row is the header
func loadExpertsXLSX(path string) ([]models.Expert, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("no sheets found in workbook")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet '%s': %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	index := make(map[string]int, len(rosterColumns))
	for i, h := range rows[0] {
		index[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range []string{"id", "channel", "user_id"} {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("expert roster sheet is missing column %q", col)
		}
	}

	cell := func(row []string, col string) string {
		i, ok := index[col]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var experts []models.Expert
	for _, row := range rows[1:] {
		if cell(row, "id") == "" {
			continue
		}
		isDefault, _ := strconv.ParseBool(cell(row, "default"))
		experts = append(experts, models.Expert{
			ID:      cell(row, "id"),
			Name:    cell(row, "name"),
			Channel: models.Channel(cell(row, "channel")),
			UserID:  cell(row, "user_id"),
			Domains: splitList(cell(row, "domains")),
			Default: isDefault,
		})
	}
	return experts, nil
}

// splitList splits on commas and the full-width comma
func splitList(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '，' || r == ';' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
