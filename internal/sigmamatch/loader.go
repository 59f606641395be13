// Package sigmamatch matches a threat report against a local SigmaHQ rule
// catalog using multi-signal scoring: ATT&CK technique overlap, IoC-type
// logsource routing, IoC value hits in detection blocks and TF-IDF keyword
// relevance.
package sigmamatch

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// RuleFile is one Sigma document loaded from the catalog. A single YAML
// file can contribute several documents.
type RuleFile struct {
	FilePath     string
	RelativePath string
	Data         map[string]any
}

const loadWorkers = 8

// LoadRules walks root and parses every .yml/.yaml file. Documents without
// a title (action documents, collection headers) are skipped, as are files
// that fail to parse. File order is stable so index positions are
// reproducible across loads.
func LoadRules(root string) ([]RuleFile, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := filepath.Ext(path)
		if ext == ".yml" || ext == ".yaml" {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	log.Info().Int("files", len(paths)).Str("dir", root).Msg("Scanning Sigma catalog")

	perFile := make([][]RuleFile, len(paths))
	var mu sync.Mutex
	parseErrors := 0

	var g errgroup.Group
	g.SetLimit(loadWorkers)
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			docs, err := loadYAMLFile(path, root)
			if err != nil {
				mu.Lock()
				parseErrors++
				mu.Unlock()
				return nil
			}
			perFile[i] = docs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var rules []RuleFile
	for _, docs := range perFile {
		rules = append(rules, docs...)
	}

	log.Info().Int("rules", len(rules)).Int("errors", parseErrors).Msg("Loaded Sigma rules")
	return rules, nil
}

func loadYAMLFile(path, root string) ([]RuleFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	relative, err := filepath.Rel(root, path)
	if err != nil {
		relative = filepath.Base(path)
	}

	var docs []RuleFile
	decoder := yaml.NewDecoder(f)
	for {
		var doc map[string]any
		err := decoder.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// partial files still count; bail on the first bad document
			if len(docs) == 0 {
				return nil, err
			}
			break
		}
		if doc == nil {
			continue
		}
		if _, ok := doc["title"]; !ok {
			continue
		}
		docs = append(docs, RuleFile{
			FilePath:     path,
			RelativePath: relative,
			Data:         doc,
		})
	}
	return docs, nil
}

func ruleString(data map[string]any, key, fallback string) string {
	if v, ok := data[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func ruleTags(data map[string]any) []string {
	raw, ok := data["tags"].([]any)
	if !ok {
		return nil
	}
	tags := make([]string, 0, len(raw))
	for _, t := range raw {
		if s, ok := t.(string); ok {
			tags = append(tags, s)
		}
	}
	return tags
}

func hasPrefixAny(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func hasSuffixAny(s string, suffixes ...string) bool {
	for _, p := range suffixes {
		if strings.HasSuffix(s, p) {
			return true
		}
	}
	return false
}
