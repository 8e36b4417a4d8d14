package classifier

import (
	"regexp"
	"sort"
	"strings"

	"github.com/BearBump/ParcelSync/internal/models"
)

type Match struct {
	Carrier    models.Carrier `json:"carrier"`
	Confidence float64        `json:"confidence"`
}

type rule struct {
	re         *regexp.Regexp
	carrier    models.Carrier
	confidence float64
}

// Порядок правил важен: при равной уверенности выигрывает более раннее.
var rules = []rule{
	{regexp.MustCompile(`^TW\d{12,15}[A-Z]?$`), models.CarrierSevenEleven, 0.95},
	{regexp.MustCompile(`^[A-Z]{2}\d{10,13}$`), models.CarrierFamilyMart, 0.7},
	{regexp.MustCompile(`^HL\d{10,15}$`), models.CarrierHiLife, 0.9},
	{regexp.MustCompile(`^\d{12}$`), models.CarrierTCat, 0.8},
	{regexp.MustCompile(`^\d{10,11}$`), models.CarrierHCT, 0.6},
	{regexp.MustCompile(`^E\d{11,12}$`), models.CarrierECan, 0.9},
	{regexp.MustCompile(`^[A-Z]{2}\d{9}TW$`), models.CarrierPostTW, 0.95},
	{regexp.MustCompile(`^\d{13}$`), models.CarrierPostTW, 0.5},
	{regexp.MustCompile(`^SF\d{12,15}$`), models.CarrierSFExpress, 0.95},
	{regexp.MustCompile(`^\d{10}$`), models.CarrierDHL, 0.4},
	{regexp.MustCompile(`^\d{15}$`), models.CarrierFedEx, 0.5},
	{regexp.MustCompile(`^LP\d{15,18}$`), models.CarrierCainiao, 0.9},
	{regexp.MustCompile(`^SPXTE\d{10,15}$`), models.CarrierShopee, 0.95},
	{regexp.MustCompile(`^SPXRT\d{10,15}$`), models.CarrierShopee, 0.95},
	{regexp.MustCompile(`^SPX[A-Z]{2}\d{10,15}$`), models.CarrierShopee, 0.9},
}

var plausible = regexp.MustCompile(`^[A-Z0-9]{5,50}$`)

var stripper = strings.NewReplacer(" ", "", "-", "", "\t", "", "　", "")

// Normalize trims, uppercases and drops spaces and dashes.
func Normalize(raw string) string {
	return stripper.Replace(strings.ToUpper(strings.TrimSpace(raw)))
}

func IsPlausibleFormat(raw string) bool {
	return plausible.MatchString(Normalize(raw))
}

// Classify returns every carrier whose pattern matches, best first. A carrier
// matched by several rules appears once with its highest confidence.
func Classify(raw string) []Match {
	n := Normalize(raw)
	if !plausible.MatchString(n) {
		return []Match{}
	}

	out := make([]Match, 0, 4)
	pos := make(map[models.Carrier]int, 4)
	for _, r := range rules {
		if !r.re.MatchString(n) {
			continue
		}
		if i, ok := pos[r.carrier]; ok {
			if r.confidence > out[i].Confidence {
				out[i].Confidence = r.confidence
			}
			continue
		}
		pos[r.carrier] = len(out)
		out = append(out, Match{Carrier: r.carrier, Confidence: r.confidence})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	return out
}

func ClassifyBest(raw string) (Match, bool) {
	ms := Classify(raw)
	if len(ms) == 0 {
		return Match{}, false
	}
	return ms[0], true
}
