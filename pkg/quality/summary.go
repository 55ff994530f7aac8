package quality

import "github.com/David-Botos/data-cleansing/pkg/model"

// RuleSummary aggregates the outcome of one rule over a batch
type RuleSummary struct {
	Name     string
	Passed   int
	Failed   int
	PassRate float64
}

// Summary aggregates rule outcomes and scores over a batch of records
type Summary struct {
	Records      int
	FlaggedRows  int
	AverageScore float64
	Rules        []RuleSummary
}

// Summarize evaluates the rules over every record without modifying them
func Summarize(records []*model.Record, rules Rules) Summary {
	s := Summary{
		Records: len(records),
		Rules:   make([]RuleSummary, len(rules)),
	}
	for i, rule := range rules {
		s.Rules[i].Name = rule.Name
	}
	if len(records) == 0 || len(rules) == 0 {
		return s
	}

	var scoreTotal float64
	for _, rec := range records {
		a := Evaluate(rec, rules)
		if a.HasFlags() {
			s.FlaggedRows++
		}
		scoreTotal += float64(a.Passed) / float64(a.Total) * 100
		for i, rule := range rules {
			if rule.Check(rec.Value(rule.Column)) {
				s.Rules[i].Passed++
			} else {
				s.Rules[i].Failed++
			}
		}
	}

	s.AverageScore = round2(scoreTotal / float64(len(records)))
	for i := range s.Rules {
		s.Rules[i].PassRate = round2(float64(s.Rules[i].Passed) / float64(len(records)) * 100)
	}
	return s
}
