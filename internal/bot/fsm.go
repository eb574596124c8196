package bot

import (
	"strings"
	"time"
	"unicode/utf8"

	"astro-bot/internal/models"
)

type State string

const (
	StateIdle                    State = "idle"
	StateAwaitingReady           State = "awaiting_ready"
	StateAwaitingDate            State = "awaiting_date"
	StateAwaitingTime            State = "awaiting_time"
	StateAwaitingLocation        State = "awaiting_location"
	StateComplete                State = "complete"
	StateAwaitingPartnerName     State = "awaiting_partner_name"
	StateAwaitingPartnerDate     State = "awaiting_partner_date"
	StateAwaitingPartnerTime     State = "awaiting_partner_time"
	StateAwaitingPartnerLocation State = "awaiting_partner_location"
)

// Keyboard selects the reply markup sent with an effect.
type Keyboard int

const (
	KeyboardNone Keyboard = iota
	KeyboardReady
	KeyboardRemove
	KeyboardMenu
)

const (
	btnReady    = "🔮 Готова"
	btnMainMenu = "В главное меню"

	dateLayout    = "02.01.2006"
	timeLayout    = "15:04"
	maxNameLength = 64
)

// Session is the per-chat conversation state.
type Session struct {
	State   State
	Profile models.Profile
	Partner models.Partner
}

// Effect is what the bot must do after a transition.
type Effect struct {
	Reply       string
	Keyboard    Keyboard
	SaveProfile bool
	SavePartner bool
	// Offer opens the product screen once data collection ends.
	Offer models.ProductKind
}

// Transition consumes one text message. It fills s with collected data and
// returns the next state; it never talks to Telegram or the ledger.
func Transition(state State, s *Session, input string) (State, Effect) {
	input = strings.TrimSpace(input)

	if input == btnMainMenu {
		return StateComplete, Effect{Reply: msgMainMenu, Keyboard: KeyboardMenu}
	}

	switch state {
	case StateAwaitingReady:
		if input != btnReady {
			return state, Effect{Reply: msgPressReady, Keyboard: KeyboardReady}
		}
		return StateAwaitingDate, Effect{Reply: msgAskDate, Keyboard: KeyboardRemove}

	case StateAwaitingDate:
		d, ok := parseBirthDate(input, time.Now())
		if !ok {
			return state, Effect{Reply: msgBadDate}
		}
		s.Profile.BirthDate = d
		return StateAwaitingTime, Effect{Reply: msgAskTime}

	case StateAwaitingTime:
		t, ok := parseBirthTime(input)
		if !ok {
			return state, Effect{Reply: msgBadTime}
		}
		s.Profile.BirthTime = t
		return StateAwaitingLocation, Effect{Reply: msgAskLocation}

	case StateAwaitingLocation:
		country, city, ok := parseLocation(input)
		if !ok {
			return state, Effect{Reply: msgBadLocation}
		}
		s.Profile.BirthCountry, s.Profile.BirthCity = country, city
		return StateComplete, Effect{Reply: msgProfileSaved, Keyboard: KeyboardMenu, SaveProfile: true}

	case StateAwaitingPartnerName:
		if input == "" || utf8.RuneCountInString(input) > maxNameLength {
			return state, Effect{Reply: msgBadPartnerName}
		}
		s.Partner = models.Partner{Name: input}
		return StateAwaitingPartnerDate, Effect{Reply: msgAskPartnerDate, Keyboard: KeyboardRemove}

	case StateAwaitingPartnerDate:
		d, ok := parseBirthDate(input, time.Now())
		if !ok {
			return state, Effect{Reply: msgBadDate}
		}
		s.Partner.BirthDate = d
		return StateAwaitingPartnerTime, Effect{Reply: msgAskPartnerTime}

	case StateAwaitingPartnerTime:
		t, ok := parseBirthTime(input)
		if !ok {
			return state, Effect{Reply: msgBadTime}
		}
		s.Partner.BirthTime = t
		return StateAwaitingPartnerLocation, Effect{Reply: msgAskPartnerLocation}

	case StateAwaitingPartnerLocation:
		country, city, ok := parseLocation(input)
		if !ok {
			return state, Effect{Reply: msgBadLocation}
		}
		s.Partner.BirthCountry, s.Partner.BirthCity = country, city
		return StateComplete, Effect{
			Reply:       msgPartnerSaved,
			Keyboard:    KeyboardMenu,
			SavePartner: true,
			Offer:       models.ProductCompatibility,
		}

	case StateComplete:
		return state, Effect{Reply: msgUseMenu, Keyboard: KeyboardMenu}
	}

	return StateIdle, Effect{Reply: msgNeedStart}
}

// parseBirthDate accepts DD.MM.YYYY between 1900 and now.
func parseBirthDate(s string, now time.Time) (time.Time, bool) {
	d, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, false
	}
	if d.Year() < 1900 || d.After(now) {
		return time.Time{}, false
	}
	return d, true
}

func parseBirthTime(s string) (string, bool) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return "", false
	}
	return t.Format(timeLayout), true
}

// parseLocation splits "Country, City".
func parseLocation(s string) (country, city string, ok bool) {
	parts := strings.SplitN(s, ",", 2)
	if len(parts) < 2 {
		return "", "", false
	}
	country, city = strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	if country == "" || city == "" {
		return "", "", false
	}
	return country, city, true
}
