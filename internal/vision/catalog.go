package vision

import "strings"

// Bucket lists the playback videos for one age band.
type Bucket struct {
	Male   []string `yaml:"male" json:"male"`
	Female []string `yaml:"female" json:"female"`
}

// Catalog maps an (age band, gender) pair to candidate videos.
type Catalog struct {
	BaseURL string `yaml:"base_url" json:"base_url"`
	Teen    Bucket `yaml:"teen" json:"teen"`
	Middle  Bucket `yaml:"middle" json:"middle"`
	Elderly Bucket `yaml:"elderly" json:"elderly"`
}

// Age bands, inclusive upper bounds in whole years.
const (
	teenMaxAge   = 18
	middleMaxAge = 49
)

// DefaultCatalog returns the stock campaign videos.
func DefaultCatalog() Catalog {
	return Catalog{
		BaseURL: "/videos",
		Teen: Bucket{
			Male:   []string{"esports.mp4", "nba.mp4", "marvel.mp4"},
			Female: []string{"labubu.mp4", "kpop.mp4", "cosmetic.mp4"},
		},
		Middle: Bucket{
			Male:   []string{"high-end_watch.mp4", "3c.mp4", "cars.mp4"},
			Female: []string{"luxury_bag.mp4", "plastic_surgery.mp4", "jewelry.mp4"},
		},
		Elderly: Bucket{
			Male:   []string{"glasses.mp4", "vitamin.mp4", "sweater.mp4"},
			Female: []string{"nursing_house.mp4", "dentisit.mp4", "health_food.mp4"},
		},
	}
}

// AgeBand names the band an age falls into: teen, middle or elderly.
func AgeBand(age float32) string {
	switch years := int(age); {
	case years <= teenMaxAge:
		return "teen"
	case years <= middleMaxAge:
		return "middle"
	default:
		return "elderly"
	}
}

func (c Catalog) bucket(age float32) Bucket {
	switch AgeBand(age) {
	case "teen":
		return c.Teen
	case "middle":
		return c.Middle
	default:
		return c.Elderly
	}
}

// Pick chooses a video URL for the audience. intn(n) must return a value in [0,n).
// It returns "" when the bucket is empty.
func (c Catalog) Pick(isMale bool, age float32, intn func(int) int) string {
	b := c.bucket(age)
	names := b.Female
	if isMale {
		names = b.Male
	}
	if len(names) == 0 {
		return ""
	}
	name := names[intn(len(names))]
	if c.BaseURL == "" {
		return name
	}
	return strings.TrimRight(c.BaseURL, "/") + "/" + name
}
