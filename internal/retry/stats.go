package retry

import (
	"sort"
	"time"

	"github.com/segyhp/payment-risk-engine/internal/domain"
	"github.com/segyhp/payment-risk-engine/pkg/utils"
)

// IncomeBucket groups attempts by days since the payer's last income.
type IncomeBucket string

const (
	BucketIncomeDay IncomeBucket = "0-2"
	BucketWeekOne   IncomeBucket = "3-7"
	BucketWeekTwo   IncomeBucket = "8-14"
	BucketLate      IncomeBucket = "15+"
	BucketUnknown   IncomeBucket = "unknown"
)

// BucketFor maps days since income to its bucket.
func BucketFor(days int, known bool) IncomeBucket {
	switch {
	case !known || days < 0:
		return BucketUnknown
	case days <= 2:
		return BucketIncomeDay
	case days <= 7:
		return BucketWeekOne
	case days <= 14:
		return BucketWeekTwo
	default:
		return BucketLate
	}
}

type tally struct {
	attempts int
	settled  int
}

func (t *tally) add(settled bool) {
	t.attempts++
	if settled {
		t.settled++
	}
}

// rate is Laplace smoothed so a bucket with little evidence stays near 0.5.
func (t tally) rate() float64 {
	return float64(t.settled+1) / float64(t.attempts+2)
}

type bucketKey struct {
	category domain.MandateCategory
	bucket   IncomeBucket
}

type hourKey struct {
	payerID  string
	category domain.MandateCategory
}

// Stats is the historical success table the optimizer draws probabilities
// from. It is built once per run and only read afterwards.
type Stats struct {
	byBucket   map[bucketKey]*tally
	byCategory map[domain.MandateCategory]*tally
	byHour     map[hourKey]map[int]*tally
	overall    tally
	income     map[string][]time.Time
}

// BuildStats tallies every attempt by (category, days-since-income bucket)
// and by (payer, category, hour of day). Events of unknown mandates are skipped.
func BuildStats(mandates []domain.Mandate, events []domain.CollectionEvent, income []domain.IncomeEvent) *Stats {
	s := &Stats{
		byBucket:   make(map[bucketKey]*tally),
		byCategory: make(map[domain.MandateCategory]*tally),
		byHour:     make(map[hourKey]map[int]*tally),
		income:     make(map[string][]time.Time),
	}
	for _, inc := range income {
		s.income[inc.PayerID] = append(s.income[inc.PayerID], inc.Date)
	}
	for payer := range s.income {
		dates := s.income[payer]
		sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	}

	byID := make(map[string]domain.Mandate, len(mandates))
	for _, m := range mandates {
		byID[m.ID] = m
	}

	for _, ev := range events {
		m, ok := byID[ev.MandateID]
		if !ok {
			continue
		}
		settled := !ev.Returned()
		days, known := s.DaysSinceIncome(m.PayerID, ev.AttemptedAt)

		bk := bucketKey{category: m.Category, bucket: BucketFor(days, known)}
		if s.byBucket[bk] == nil {
			s.byBucket[bk] = &tally{}
		}
		s.byBucket[bk].add(settled)

		if s.byCategory[m.Category] == nil {
			s.byCategory[m.Category] = &tally{}
		}
		s.byCategory[m.Category].add(settled)

		hk := hourKey{payerID: m.PayerID, category: m.Category}
		if s.byHour[hk] == nil {
			s.byHour[hk] = make(map[int]*tally)
		}
		h := ev.AttemptedAt.Hour()
		if s.byHour[hk][h] == nil {
			s.byHour[hk][h] = &tally{}
		}
		s.byHour[hk][h].add(settled)

		s.overall.add(settled)
	}
	return s
}

// DaysSinceIncome counts days from the payer's last income on or before at.
func (s *Stats) DaysSinceIncome(payerID string, at time.Time) (int, bool) {
	if s == nil {
		return 0, false
	}
	dates := s.income[payerID]
	atDay := utils.DayStart(at)
	i := sort.Search(len(dates), func(i int) bool {
		return utils.DayStart(dates[i]).After(atDay)
	})
	if i == 0 {
		return 0, false
	}
	return utils.DaysBetween(dates[i-1], at), true
}

// DominantIncomeDay is the most frequent day of month the payer receives
// income on, earliest day on ties.
func (s *Stats) DominantIncomeDay(payerID string) (int, bool) {
	if s == nil || len(s.income[payerID]) == 0 {
		return 0, false
	}
	var counts [32]int
	for _, d := range s.income[payerID] {
		counts[d.Day()]++
	}
	best := 0
	for d := 1; d <= 31; d++ {
		if counts[d] > counts[best] {
			best = d
		}
	}
	return best, true
}

// SuccessRate returns the smoothed historical success rate for a category and
// bucket, falling back to the category and then to the whole portfolio.
// evidence is the number of attempts behind the rate.
func (s *Stats) SuccessRate(category domain.MandateCategory, bucket IncomeBucket) (rate float64, evidence int) {
	if s == nil {
		return tally{}.rate(), 0
	}
	if t, ok := s.byBucket[bucketKey{category: category, bucket: bucket}]; ok && t.attempts > 0 {
		return t.rate(), t.attempts
	}
	if t, ok := s.byCategory[category]; ok && t.attempts > 0 {
		return t.rate(), t.attempts
	}
	return s.overall.rate(), s.overall.attempts
}

// CategoryRate is the smoothed success rate of a category regardless of
// income timing, falling back to the whole portfolio.
func (s *Stats) CategoryRate(category domain.MandateCategory) (rate float64, evidence int) {
	if s == nil {
		return tally{}.rate(), 0
	}
	if t, ok := s.byCategory[category]; ok && t.attempts > 0 {
		return t.rate(), t.attempts
	}
	return s.overall.rate(), s.overall.attempts
}

// BestHour returns the hour of day with the highest success rate for the
// payer and category. Hours that never settled are not considered.
func (s *Stats) BestHour(payerID string, category domain.MandateCategory) (int, bool) {
	if s == nil {
		return 0, false
	}
	hours := s.byHour[hourKey{payerID: payerID, category: category}]
	best, bestRate := -1, -1.0
	for h := 0; h < 24; h++ {
		t, ok := hours[h]
		if !ok || t.settled == 0 {
			continue
		}
		if r := t.rate(); r > bestRate {
			best, bestRate = h, r
		}
	}
	return best, best >= 0
}
