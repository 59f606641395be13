package sigmamatch

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
)

// iocToLogsource routes indicator buckets to the Sigma logsource categories
// a rule covering them would declare.
var iocToLogsource = map[string][]string{
	"ips":                {"network_connection", "firewall"},
	"domains":            {"dns_query", "dns"},
	"urls":               {"proxy", "network_connection", "webserver"},
	"malicious_commands": {"process_creation", "ps_script", "ps_module", "ps_classic"},
	"process_names":      {"process_creation", "image_load"},
	"filenames":          {"file_event", "file_change", "file_access", "file_delete", "file_rename"},
	"registry_keys":      {"registry_set", "registry_add", "registry_event", "registry_delete"},
	"file_hashes":        {"file_event", "process_creation", "driver_load"},
}

var (
	tagTechniqueRe  = regexp.MustCompile(`(?i)attack\.t(\d{4}(?:\.\d{3})?)`)
	bareTechniqueRe = regexp.MustCompile(`T(\d{4}(?:\.\d{3})?)`)
	tokenRe         = regexp.MustCompile(`[A-Za-z0-9\-\.:;\\/_]+`)
)

var stopwords = map[string]bool{
	"of": true, "c:": true, "and": true, "the": true, "a": true, "an": true,
	"to": true, "in": true, "for": true, "by": true, "on": true, "with": true,
	"or": true, "if": true, "is": true, "at": true, "as": true, "all": true,
	"windows": true, "microsoft": true, "this": true, "that": true, "it": true,
	"not": true, "be": true, "are": true, "was": true, "were": true,
	"has": true, "have": true, "had": true, "do": true, "does": true,
	"did": true, "will": true, "would": true, "shall": true, "should": true,
	"may": true, "might": true, "can": true, "could": true, "no": true,
	"yes": true, "from": true, "but": true, "so": true, "than": true,
	"too": true, "very": true, "just": true, "about": true, "up": true,
	"out": true, "into": true,
}

// sigmaFieldBlocklist holds rule structure keys and Sigma field names that
// must never surface as "matched keywords". They are rule syntax, not
// indicator values.
var sigmaFieldBlocklist = map[string]bool{
	"selection": true, "filter": true, "condition": true, "detection": true,
	"logsource": true, "image": true, "user": true, "status": true,
	"level": true, "title": true, "description": true, "author": true,
	"date": true, "references": true, "tags": true, "fields": true,
	"falsepositives": true,
	"selection_process": true, "selection_main": true, "selection_img": true,
	"selection_cli": true, "selection_parent": true, "selection_hash": true,
	"selection_registry": true, "selection_network": true,
	"selection_file": true, "selection_service": true, "selection_user": true,
	"selection_command": true, "selection_pipe": true,
	"selection_powershell": true, "selection_encoded": true,
	"selection_renamed": true,
	"commandline": true, "parentimage": true, "parentcommandline": true,
	"originalfilename": true, "targetfilename": true, "sourcefilename": true,
	"destinationfilename": true, "targetobject": true, "newprocessname": true,
	"parentprocessname": true, "processname": true, "imphash": true,
	"sha256": true, "sha1": true, "md5": true, "hashes": true,
	"signed": true, "signature": true, "signaturestatus": true,
	"product": true, "category": true, "service": true, "eventid": true,
	"eventtype": true, "channel": true, "provider_name": true,
	"logonid": true, "logontype": true, "targetusername": true,
	"sourceusername": true, "subjectuserdsid": true, "subjectusername": true,
	"subjectlogonid": true, "destinationport": true, "destinationip": true,
	"sourceport": true, "sourceip": true, "imagepath": true,
	"imageloaded": true, "calltracestring": true, "accessmask": true,
	"objecttype": true, "objectname": true, "queryname": true,
	"querystatus": true, "queryresults": true,
}

func isSigmaFieldName(token string) bool {
	t := strings.TrimSpace(strings.ToLower(token))
	if sigmaFieldBlocklist[t] {
		return true
	}
	if hasPrefixAny(t, "filter_", "filter.", "selection_", "selection.") {
		return true
	}
	if hasSuffixAny(t, "_filter", "_selection") {
		return true
	}
	if len(t) <= 3 && isAlpha(t) {
		return true
	}
	return false
}

func isAlpha(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}

func tokenize(text string) []string {
	raw := tokenRe.FindAllString(text, -1)
	out := make([]string, 0, len(raw))
	for _, t := range raw {
		if len(t) >= 3 && !stopwords[strings.ToLower(t)] {
			out = append(out, t)
		}
	}
	return out
}

func tokenizeLower(text string) map[string]bool {
	set := make(map[string]bool)
	for _, t := range tokenize(text) {
		set[strings.ToLower(t)] = true
	}
	return set
}

// Signals holds the multi-dimensional matching inputs extracted from one
// analysis result.
type Signals struct {
	Techniques          map[string]bool
	IOCTypes            map[string][]string
	LogsourceCategories map[string]bool
	Keywords            map[string]bool
	IOCValues           map[string]bool
}

// addTechnique records a normalized technique id plus its parent when the
// id names a sub-technique.
func (s *Signals) addTechnique(raw string) {
	for _, m := range bareTechniqueRe.FindAllStringSubmatch(strings.ToUpper(raw), -1) {
		tid := "t" + strings.ToLower(m[1])
		s.Techniques[tid] = true
		if parent, _, found := strings.Cut(tid, "."); found {
			s.Techniques[parent] = true
		}
	}
}

// GatherSignals extracts techniques, IoC values, logsource categories and
// keyword tokens from the analysis payload. mitreTechniqueIDs carries ids
// resolved by the ATT&CK mapper so matches survive even when the raw TTP
// text lacks them.
func GatherSignals(analysis map[string]any, mitreTechniqueIDs []string) *Signals {
	signals := &Signals{
		Techniques:          make(map[string]bool),
		IOCTypes:            make(map[string][]string),
		LogsourceCategories: make(map[string]bool),
		Keywords:            make(map[string]bool),
		IOCValues:           make(map[string]bool),
	}

	ttps, _ := analysis["ttps"].([]any)
	for _, ttp := range ttps {
		switch v := ttp.(type) {
		case string:
			signals.addTechnique(v)
		case map[string]any:
			var parts []string
			for _, val := range v {
				parts = append(parts, fmt.Sprint(val))
			}
			signals.addTechnique(strings.Join(parts, " "))
		}
	}
	for _, tid := range mitreTechniqueIDs {
		signals.addTechnique(tid)
	}

	iocs, _ := analysis["indicators_of_compromise"].(map[string]any)
	for iocType, raw := range iocs {
		values, _ := raw.([]any)
		if len(values) == 0 {
			continue
		}
		var indicators []string
		for _, v := range values {
			s := strings.TrimSpace(fmt.Sprint(v))
			if s == "" {
				continue
			}
			indicators = append(indicators, s)
			signals.IOCValues[strings.ToLower(s)] = true
		}
		if len(indicators) == 0 {
			continue
		}
		signals.IOCTypes[iocType] = indicators
		for _, category := range iocToLogsource[iocType] {
			signals.LogsourceCategories[category] = true
		}
	}

	// tool and actor names show up verbatim in detection blocks
	for _, key := range []string{"tools_or_malware", "threat_actors"} {
		items, _ := analysis[key].([]any)
		for _, item := range items {
			s := strings.TrimSpace(strings.ToLower(fmt.Sprint(item)))
			if s != "" {
				signals.IOCValues[s] = true
			}
		}
	}

	signals.Keywords = gatherKeywords(analysis)

	log.Info().
		Int("techniques", len(signals.Techniques)).
		Int("ioc_values", len(signals.IOCValues)).
		Int("logsource_categories", len(signals.LogsourceCategories)).
		Int("keywords", len(signals.Keywords)).
		Msg("Extracted report signals")

	return signals
}

func gatherKeywords(analysis map[string]any) map[string]bool {
	keywords := make(map[string]bool)
	merge := func(text string) {
		for t := range tokenizeLower(text) {
			keywords[t] = true
		}
	}

	iocs, _ := analysis["indicators_of_compromise"].(map[string]any)
	for _, raw := range iocs {
		switch v := raw.(type) {
		case []any:
			for _, item := range v {
				merge(fmt.Sprint(item))
			}
		case string:
			merge(v)
		}
	}

	ttps, _ := analysis["ttps"].([]any)
	for _, ttp := range ttps {
		switch v := ttp.(type) {
		case map[string]any:
			for _, val := range v {
				merge(fmt.Sprint(val))
			}
		case string:
			merge(v)
		}
	}

	for _, key := range []string{"threat_actors", "tools_or_malware"} {
		items, _ := analysis[key].([]any)
		for _, item := range items {
			merge(fmt.Sprint(item))
		}
	}

	return keywords
}
