package domain

type Settings struct {
	Enabled    bool
	HourOffset bool               // adds one hour to every table time
	Iqama      map[PrayerName]int // minutes after the call, display only
}

var DefaultIqamaMinutes = map[PrayerName]int{
	Fajr:    25,
	Sunrise: 0,
	Dhuhr:   20,
	Asr:     20,
	Maghrib: 10,
	Isha:    20,
}

func DefaultSettings() Settings {
	iqama := make(map[PrayerName]int, len(DefaultIqamaMinutes))
	for k, v := range DefaultIqamaMinutes {
		iqama[k] = v
	}
	return Settings{Enabled: true, Iqama: iqama}
}
