package corrections

import (
	"context"
	"fmt"
	"math"

	"github.com/signalsfoundry/gnss-nav-engine/model"
	"github.com/signalsfoundry/gnss-nav-engine/navtime"
)

const celsiusToKelvin = 273.15

// Weather is a surface observation: temperature in degrees C, pressure in
// millibars, relative humidity in percent.
type Weather struct {
	Temperature float64
	Pressure    float64
	Humidity    float64
}

// DefaultWeather is the standard atmosphere at sea level.
var DefaultWeather = Weather{Temperature: 20, Pressure: 1013, Humidity: 50}

// checked rejects impossible values and clips slight supersaturation.
func (w Weather) checked() (Weather, error) {
	switch {
	case math.IsNaN(w.Temperature) || math.IsNaN(w.Pressure) || math.IsNaN(w.Humidity):
		return w, fmt.Errorf("%w: incomplete observation", ErrNoWeather)
	case w.Temperature+celsiusToKelvin < 0:
		return w, fmt.Errorf("invalid temperature %.1f C", w.Temperature)
	case w.Pressure < 0:
		return w, fmt.Errorf("invalid pressure %.1f mb", w.Pressure)
	case w.Humidity < 0 || w.Humidity > 105:
		return w, fmt.Errorf("invalid humidity %.1f%%", w.Humidity)
	}
	w.Humidity = math.Min(w.Humidity, 100)
	return w, nil
}

// vapourPressure is the partial water vapour pressure in millibars.
func (w Weather) vapourPressure() float64 {
	return 6.11 * (w.Humidity / 100) * math.Pow(10, 7.5*w.Temperature/(w.Temperature+237.3))
}

// Site is the receiver side of a troposphere evaluation.
type Site struct {
	LatDeg float64
	Height float64
	DOY    int
}

// TropModel turns an elevation angle into a slant delay in metres.
// Weather is nil when none is available; models without a climatology of
// their own then fail with ErrNoWeather.
type TropModel interface {
	Name() string
	Correction(elevDeg float64, site Site, wx *Weather) (float64, error)
}

func needWeather(m TropModel, wx *Weather) (Weather, error) {
	if wx == nil {
		return Weather{}, fmt.Errorf("%w: %s model", ErrNoWeather, m.Name())
	}
	return wx.checked()
}

// ZeroTropModel always returns zero.
type ZeroTropModel struct{}

func (ZeroTropModel) Name() string { return "Zero" }

func (ZeroTropModel) Correction(float64, Site, *Weather) (float64, error) { return 0, nil }

// SimpleTropModel is the Black model.
type SimpleTropModel struct{}

func (SimpleTropModel) Name() string { return "Simple" }

func (m SimpleTropModel) Correction(elevDeg float64, _ Site, wx *Weather) (float64, error) {
	w, err := needWeather(m, wx)
	if err != nil {
		return 0, err
	}
	if elevDeg < 0 {
		return 0, nil
	}
	t := w.Temperature + celsiusToKelvin
	dry := 2.343 * (w.Pressure / 1013.25) * (t - 3.96) / t
	wet := 8.952 / (t * t) * w.Humidity * math.Exp(-37.2465+0.213166*t-0.256908e-3*t*t)
	dryMap := 1 + 0.15*148.98*(t-3.96)/model.WGS84SemiMajor
	wetMap := 1 + 0.15*12000.0/model.WGS84SemiMajor
	cosEl := math.Cos(elevDeg * math.Pi / 180)
	mapping := func(c float64) float64 {
		d := cosEl / c
		return 1 / math.Sqrt(1-d*d)
	}
	return dry*mapping(dryMap) + wet*mapping(wetMap), nil
}

// saasDenominator is the gravity variation with latitude and height used
// by the Saastamoinen zenith delays.
func saasDenominator(latDeg, height float64) float64 {
	return 1 - 0.00266*math.Cos(2*latDeg*math.Pi/180) - 0.00028*height/1000
}

func saasDry(w Weather, site Site) float64 {
	return 0.0022768 * w.Pressure / saasDenominator(site.LatDeg, site.Height)
}

func saasWet(w Weather, site Site) float64 {
	t := w.Temperature + celsiusToKelvin
	return 0.002277 * (1255/t + 0.05) * w.vapourPressure() / saasDenominator(site.LatDeg, site.Height)
}

// Latitude bands 15, 30, 45, 60 and 75 degrees.
var (
	saasWetA  = [5]float64{0.00058021897, 0.00056794847, 0.00058118019, 0.00059727542, 0.00061641693}
	saasWetB  = [5]float64{0.0014275268, 0.0015138625, 0.0014572752, 0.0015007428, 0.0017599082}
	saasWetC  = [5]float64{0.043472961, 0.046729510, 0.043908931, 0.044626982, 0.054736038}
	saasDryA  = [5]float64{0.0012769934, 0.0012683230, 0.0012465397, 0.0012196049, 0.0012045996}
	saasDryB  = [5]float64{0.0029153695, 0.0029152299, 0.0029288445, 0.0029022565, 0.0029024912}
	saasDryC  = [5]float64{0.062610505, 0.062837393, 0.063721774, 0.063824265, 0.064258455}
	saasDryA1 = [5]float64{0, 0.000012709626, 0.000026523662, 0.000034000452, 0.000041202191}
	saasDryB1 = [5]float64{0, 0.000021414979, 0.000030160779, 0.000072562722, 0.00011723375}
	saasDryC1 = [5]float64{0, 0.000090128400, 0.000043497037, 0.00084795348, 0.0017037206}
)

// latBand interpolates a five-entry latitude table.
func latBand(tab [5]float64, latDeg float64) float64 {
	lat := math.Abs(latDeg)
	switch {
	case lat < 15:
		return tab[0]
	case lat >= 75:
		return tab[4]
	}
	i := int(lat/15) - 1
	frac := (lat - 15*float64(i+1)) / 15
	return tab[i] + frac*(tab[i+1]-tab[i])
}

// seasonal is the cosine of the day of year counted from mid-winter in the
// receiver's hemisphere.
func seasonal(site Site) float64 {
	t := float64(site.DOY) - 28
	if site.LatDeg < 0 {
		t += 365.25 / 2
	}
	return math.Cos(t * 2 * math.Pi / 365.25)
}

func continuedFraction(se, a, b, c float64) float64 {
	return (1 + a/(1+b/(1+c))) / (se + a/(se+b/(se+c)))
}

// SaasTropModel is the Saastamoinen zenith delay with the Neill mapping.
type SaasTropModel struct{}

func (SaasTropModel) Name() string { return "Saas" }

func (m SaasTropModel) Correction(elevDeg float64, site Site, wx *Weather) (float64, error) {
	w, err := needWeather(m, wx)
	if err != nil {
		return 0, err
	}
	if site.DOY < 1 || site.DOY > 366 {
		return 0, fmt.Errorf("invalid day of year %d", site.DOY)
	}
	if elevDeg < 0 {
		return 0, nil
	}
	se := math.Sin(elevDeg * math.Pi / 180)
	ct := seasonal(site)
	a := latBand(saasDryA, site.LatDeg)
	b := latBand(saasDryB, site.LatDeg)
	c := latBand(saasDryC, site.LatDeg)
	if lat := math.Abs(site.LatDeg); lat >= 15 {
		a -= ct * latBand(saasDryA1, site.LatDeg)
		b -= ct * latBand(saasDryB1, site.LatDeg)
		c -= ct * latBand(saasDryC1, site.LatDeg)
	}
	dryMap := continuedFraction(se, a, b, c)
	dryMap += site.Height / 1000 * (1/se - continuedFraction(se, 0.0000253, 0.00549, 0.00114))
	wetMap := continuedFraction(se, latBand(saasWetA, site.LatDeg), latBand(saasWetB, site.LatDeg),
		latBand(saasWetC, site.LatDeg))
	return saasDry(w, site)*dryMap + saasWet(w, site)*wetMap, nil
}

// blackEisner is the mapping shared by the NB and global models.
func blackEisner(elevDeg float64) float64 {
	se := math.Sin(elevDeg * math.Pi / 180)
	return 1.001 / math.Sqrt(0.002001+se*se)
}

// GlobalTropModel is the Saastamoinen zenith delay with the Black and
// Eisner mapping. It needs weather.
type GlobalTropModel struct{}

func (GlobalTropModel) Name() string { return "Global" }

func (m GlobalTropModel) Correction(elevDeg float64, site Site, wx *Weather) (float64, error) {
	w, err := needWeather(m, wx)
	if err != nil {
		return 0, err
	}
	if elevDeg < 0 {
		return 0, nil
	}
	return (saasDry(w, site) + saasWet(w, site)) * blackEisner(elevDeg), nil
}

// UNB3 sea level climatology: pressure (mb), temperature (K), vapour
// pressure (mb), lapse rate (K/m), vapour lapse rate; averages and seasonal
// amplitudes at 15, 30, 45, 60 and 75 degrees.
var (
	nbAvg = [5][5]float64{
		{1013.25, 299.65, 26.31, 6.30e-3, 2.77},
		{1017.25, 294.15, 21.79, 6.05e-3, 3.15},
		{1015.75, 283.15, 11.66, 5.58e-3, 2.57},
		{1011.75, 272.15, 6.78, 5.39e-3, 1.81},
		{1013.00, 263.65, 4.11, 4.53e-3, 1.55},
	}
	nbAmp = [5][5]float64{
		{0, 0, 0, 0, 0},
		{-3.75, 7.0, 8.85, 0.25e-3, 0.33},
		{-2.25, 11.0, 7.24, 0.32e-3, 0.46},
		{-1.75, 15.0, 5.36, 0.81e-3, 0.74},
		{-0.50, 14.5, 3.39, 0.62e-3, 0.30},
	}
)

func nbColumn(tab [5][5]float64, col int) [5]float64 {
	var out [5]float64
	for i := range tab {
		out[i] = tab[i][col]
	}
	return out
}

// NBTropModel is the New Brunswick (UNB3) model. Without weather it uses
// its climatology for the receiver latitude and day of year.
type NBTropModel struct{}

func (NBTropModel) Name() string { return "NB" }

func (NBTropModel) Correction(elevDeg float64, site Site, wx *Weather) (float64, error) {
	if site.DOY < 1 || site.DOY > 366 {
		return 0, fmt.Errorf("invalid day of year %d", site.DOY)
	}
	if elevDeg < 0 {
		return 0, nil
	}
	const (
		k1 = 77.604
		k2 = 16.6
		k3 = 377600.0
		rd = 287.054
		g  = 9.80665
	)
	ct := seasonal(site)
	param := func(col int) float64 {
		return latBand(nbColumn(nbAvg, col), site.LatDeg) - ct*latBand(nbColumn(nbAmp, col), site.LatDeg)
	}
	p, t, e, beta, lambda := param(0), param(1), param(2), param(3), param(4)
	height := site.Height
	if wx != nil {
		w, err := wx.checked()
		if err != nil {
			return 0, err
		}
		// measured at the antenna, so no reduction from sea level
		p, t, e = w.Pressure, w.Temperature+celsiusToKelvin, w.vapourPressure()
		height = 0
	}
	gm := 9.784 * (1 - 0.00266*math.Cos(2*site.LatDeg*math.Pi/180) - 0.00000028*site.Height)
	l1 := lambda + 1
	base := 1 - beta*height/t
	zhd := 1e-6 * k1 * rd * p / gm * math.Pow(base, g/(rd*beta))
	tm := t * (1 - beta*rd/(gm*l1))
	zwd := 1e-6 * (tm*k2 + k3) * rd / (gm*l1 - beta*rd) * e / t * math.Pow(base, l1*g/(rd*beta)-1)

	mapping := blackEisner(elevDeg)
	if elevDeg < 4 {
		mapping *= 1 + 0.015*(4-elevDeg)*(4-elevDeg)
	}
	return (zhd + zwd) * mapping, nil
}

// TropCorrector evaluates a troposphere model at the receiver. Weather
// comes from a default set with SetDefaultWeather or from a RINEX met file
// loaded with LoadFile, whichever was called last.
type TropCorrector struct {
	Model TropModel
	Met   *MetReader

	useDefault bool
	def        Weather
}

func NewTropCorrector(m TropModel) *TropCorrector {
	return &TropCorrector{Model: m, Met: NewMetReader()}
}

func (*TropCorrector) Type() CorrectorType { return CorrTrop }

// SetDefaultWeather fixes the weather used for every evaluation.
func (c *TropCorrector) SetDefaultWeather(w Weather) {
	c.useDefault = true
	c.def = w
}

// LoadFile reads a RINEX met file and switches to its observations.
func (c *TropCorrector) LoadFile(ctx context.Context, source string) error {
	if err := c.Met.Read(ctx, source); err != nil {
		return err
	}
	c.useDefault = false
	return nil
}

func (c *TropCorrector) weather(when navtime.CommonTime) (*Weather, error) {
	if c.useDefault {
		w := c.def
		return &w, nil
	}
	if c.Met == nil || c.Met.Len() == 0 {
		return nil, nil
	}
	w, err := c.Met.At(when)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (c *TropCorrector) GetCorr(rx, sv model.Position, _ model.SatID, _ model.NavSignalID,
	when navtime.CommonTime) (float64, error) {
	lat, _, height := rx.Geodetic()
	_, doy, _ := when.YDS()
	wx, err := c.weather(when)
	if err != nil {
		return math.NaN(), fmt.Errorf("%w: trop: %w", ErrCorrectorFailed, err)
	}
	v, err := c.Model.Correction(rx.ElevationDegrees(sv), Site{LatDeg: lat, Height: height, DOY: doy}, wx)
	if err != nil {
		return math.NaN(), fmt.Errorf("%w: %s trop: %w", ErrCorrectorFailed, c.Model.Name(), err)
	}
	return v, nil
}
