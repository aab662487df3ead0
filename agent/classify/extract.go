package classify

import (
	"regexp"
	"strings"

	contractx "github.com/tanpawarit/Predictive-Maintenance-Agent/agent/contract"
)

var (
	splitDatasetPattern = regexp.MustCompile(`(?i)\b(train|test)_?(FD\d{3})\b`)
	fdPattern           = regexp.MustCompile(`(?i)\b(FD\d{3})\b`)
	namedDatasetPattern = regexp.MustCompile(`(?i)\bdataset\s+([A-Za-z0-9_]+)`)
	splitPattern        = regexp.MustCompile(`(?i)\b(training|train|testing|test)\b`)
	unitPattern         = regexp.MustCompile(`(?i)\b(?:unit|engine)(?:_number)?\s*(?:number\s*|no\.?\s*|#\s*|=\s*)?(\d+)\b`)
	timePattern         = regexp.MustCompile(`(?i)\b(?:time_in_cycles|time in cycles|time index|time|cycles?)\s*(?:=\s*)?(\d+)\b`)
	columnPattern       = regexp.MustCompile(`(?i)\b(sensor_measurement_\d+|operational_setting_\d+)\b`)
	sensorPattern       = regexp.MustCompile(`(?i)\bsensor\s*(?:measurement\s*)?#?\s*(\d+)\b`)
	settingPattern      = regexp.MustCompile(`(?i)\b(?:operational\s+)?setting\s*#?\s*(\d+)\b`)
	metricPattern       = regexp.MustCompile(`(?i)\bmetric\s+([A-Za-z0-9_]+)`)
	comparePattern      = regexp.MustCompile(`(?i)\b(?:versus|vs\.?|compared\s+(?:to|with)|against)\s+(?:the\s+)?([A-Za-z0-9_ ]+?)(?:\s+(?:for|in|of|on|across|over)\b|[?.,!;]|$)`)
)

// Words that follow "metric" or "dataset" in prose without naming one.
var stopWords = map[string]bool{
	"for": true, "of": true, "in": true, "at": true, "the": true, "a": true,
	"value": true, "values": true, "is": true, "and": true, "with": true,
}

// ExtractEntities pulls surface values out of request text. Absent values stay
// empty; nothing is inferred.
func ExtractEntities(text string) contractx.Entities {
	var e contractx.Entities

	switch m := splitDatasetPattern.FindStringSubmatch(text); {
	case m != nil:
		e.Split = strings.ToLower(m[1])
		e.Dataset = strings.ToUpper(m[2])
	default:
		if m := fdPattern.FindStringSubmatch(text); m != nil {
			e.Dataset = strings.ToUpper(m[1])
		} else if m := namedDatasetPattern.FindStringSubmatch(text); m != nil && !stopWords[strings.ToLower(m[1])] {
			e.Dataset = m[1]
		}
	}
	if e.Split == "" {
		if m := splitPattern.FindStringSubmatch(text); m != nil {
			e.Split = "test"
			if strings.HasPrefix(strings.ToLower(m[1]), "train") {
				e.Split = "train"
			}
		}
	}

	if m := unitPattern.FindStringSubmatch(text); m != nil {
		e.Unit = m[1]
	}
	if m := timePattern.FindStringSubmatch(text); m != nil {
		e.TimeIndex = m[1]
	}

	switch {
	case columnPattern.MatchString(text):
		e.Sensor = strings.ToLower(columnPattern.FindStringSubmatch(text)[1])
	case sensorPattern.MatchString(text):
		e.Sensor = "sensor_measurement_" + sensorPattern.FindStringSubmatch(text)[1]
	case settingPattern.MatchString(text):
		e.Sensor = "operational_setting_" + settingPattern.FindStringSubmatch(text)[1]
	}

	if m := metricPattern.FindStringSubmatch(text); m != nil && !stopWords[strings.ToLower(m[1])] {
		e.Metric = m[1]
	} else {
		e.Metric = e.Sensor
	}

	if m := comparePattern.FindStringSubmatch(text); m != nil {
		e.ComparisonTarget = strings.TrimSpace(m[1])
	}
	return e
}
