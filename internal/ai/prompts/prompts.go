// Package prompts holds the prompt templates and few-shot exemplars used by
// the AI task layer. Templates live as plain text files embedded into the
// binary; placeholders use the {name} form and are substituted at render
// time.
package prompts

import (
	"embed"
	"strings"
	"sync"
)

//go:embed templates/*.txt
var templateFS embed.FS

//go:embed fewshot/*.txt
var fewShotFS embed.FS

// System prompt names.
const (
	ThreatAnalystSystem      = "threat_analyst_system"
	IOCExtractorSystem       = "ioc_extractor_system"
	DetectionEngineerSystem  = "detection_engineer_system"
	SIEMSpecialistSystem     = "siem_specialist_system"
	RuleQASystem             = "rule_qa_system"
	AtomicTestEngineerSystem = "atomic_test_engineer_system"
)

// Chain-of-thought template names.
const (
	ThreatSummaryCOT        = "threat_summary_cot"
	IOCExtractionCOT        = "ioc_extraction_cot"
	SigmaGenerationCOT      = "sigma_generation_cot"
	SIEMConversionCOT       = "siem_conversion_cot"
	RuleGenerationCOT       = "rule_generation_cot"
	AtomicTestGenerationCOT = "atomic_test_generation_cot"
	YARAGenerationCOT       = "yara_generation_cot"
)

var (
	loadOnce  sync.Once
	templates map[string]string
)

func load() {
	loadOnce.Do(func() {
		templates = make(map[string]string)
		entries, err := templateFS.ReadDir("templates")
		if err != nil {
			return
		}
		for _, e := range entries {
			name := strings.TrimSuffix(e.Name(), ".txt")
			data, err := templateFS.ReadFile("templates/" + e.Name())
			if err != nil {
				continue
			}
			templates[name] = strings.TrimRight(string(data), "\n")
		}
	})
}

// Get returns the raw template text for a name, or "" if unknown.
func Get(name string) string {
	load()
	return templates[name]
}

// Render substitutes {placeholder} tokens in the named template.
func Render(name string, vars map[string]string) string {
	text := Get(name)
	for key, value := range vars {
		text = strings.ReplaceAll(text, "{"+key+"}", value)
	}
	return text
}

// FewShot returns the named few-shot exemplar, or "" when none is shipped.
// Missing exemplars are not an error: tasks simply run zero-shot.
func FewShot(name string) string {
	data, err := fewShotFS.ReadFile("fewshot/" + name + ".txt")
	if err != nil {
		return ""
	}
	return strings.TrimRight(string(data), "\n")
}
