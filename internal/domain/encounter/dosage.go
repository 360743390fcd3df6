package encounter

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var numberPattern = regexp.MustCompile(`\d+(?:\.\d+)?`)

// frequencyWords maps spelled-out frequencies to doses per day. Checked in
// order, so longer phrases must come first.
var frequencyWords = []struct {
	word  string
	times float64
}{
	{"six times", 6},
	{"five times", 5},
	{"four times", 4},
	{"three times", 3},
	{"thrice", 3},
	{"twice", 2},
	{"once", 1},
}

// FirstNumber returns the first decimal number in s.
func FirstNumber(s string) (float64, bool) {
	m := numberPattern.FindString(s)
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// TimesPerDay parses a frequency such as "2 times daily" or "twice daily".
func TimesPerDay(frequency string) (float64, bool) {
	if v, ok := FirstNumber(frequency); ok {
		return v, true
	}
	f := strings.ToLower(frequency)
	for _, fw := range frequencyWords {
		if strings.Contains(f, fw.word) {
			return fw.times, true
		}
	}
	return 0, false
}

// CalculateQuantity returns ceil(dose * timesPerDay * days). It reports false
// when any input has no usable number.
func CalculateQuantity(dosage, frequency, duration string) (int, bool) {
	dose, ok := FirstNumber(dosage)
	if !ok {
		return 0, false
	}
	times, ok := TimesPerDay(frequency)
	if !ok {
		return 0, false
	}
	days, ok := FirstNumber(duration)
	if !ok {
		return 0, false
	}
	q := math.Ceil(dose * times * days)
	if q <= 0 || q > math.MaxInt32 {
		return 0, false
	}
	return int(q), true
}

// DosageDialog is one session of the add/edit medication dialog. Quantity
// follows dosage, frequency and duration until the user types a quantity;
// from then on it is left alone for the rest of the session.
type DosageDialog struct {
	med     Medication
	touched bool
}

func NewDosageDialog(m Medication) *DosageDialog {
	return &DosageDialog{med: m}
}

func (d *DosageDialog) SetMedication(id string)  { d.med.MedicationID = id }
func (d *DosageDialog) SetInstructions(s string) { d.med.Instructions = s }

func (d *DosageDialog) SetDosage(s string) {
	d.med.Dosage = s
	d.recalculate()
}

func (d *DosageDialog) SetFrequency(s string) {
	d.med.Frequency = s
	d.recalculate()
}

func (d *DosageDialog) SetDuration(s string) {
	d.med.Duration = s
	d.recalculate()
}

// SetQuantity records a manual quantity and turns auto-calculation off.
func (d *DosageDialog) SetQuantity(q int) {
	d.med.Quantity = q
	d.touched = true
}

func (d *DosageDialog) QuantityTouched() bool { return d.touched }

func (d *DosageDialog) Medication() Medication { return d.med }

func (d *DosageDialog) recalculate() {
	if d.touched {
		return
	}
	if q, ok := CalculateQuantity(d.med.Dosage, d.med.Frequency, d.med.Duration); ok {
		d.med.Quantity = q
	}
}
