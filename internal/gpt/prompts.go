package gpt

import (
	"errors"
	"fmt"
	"strings"

	"astro-bot/internal/models"
)

var (
	ErrIncompleteProfile = errors.New("birth data is incomplete")
	ErrNoPartner         = errors.New("partner data is missing")
)

// MaxParts is the largest number of prompt parts any product builds.
const MaxParts = 2

const astrologerRole = "Ты опытный астролог. Пиши тепло, по-человечески и конкретно, " +
	"без общих фраз. Используй заголовки разделов в формате Markdown (## Заголовок)."

// BuildPrompts returns the prompt parts for kind in the order their answers
// must be concatenated.
func BuildPrompts(kind models.ProductKind, u *models.User) ([][]Message, error) {
	if !u.Profile.Complete() {
		return nil, ErrIncompleteProfile
	}
	person := describe(displayName(u.Name), u.Profile)

	switch kind {
	case models.ProductDestiny:
		return [][]Message{
			{
				System(astrologerRole),
				User("Составь первую часть карты предназначения по натальной карте.\n" + person +
					"\nРазделы: личность и характер, таланты и сильные стороны, миссия."),
			},
			{
				System(astrologerRole),
				User("Составь вторую часть карты предназначения по натальной карте.\n" + person +
					"\nРазделы: сферы реализации, что мешает двигаться вперёд, практические советы."),
			},
		}, nil

	case models.ProductSolar:
		return [][]Message{{
			System(astrologerRole),
			User("Сделай разбор соляра на ближайший год.\n" + person +
				"\nРазделы: главная тема года, отношения, работа и деньги, здоровье, ключевые периоды."),
		}}, nil

	case models.ProductIncome:
		return [][]Message{{
			System(astrologerRole),
			User("Сделай разбор карьеры и дохода по натальной карте.\n" + person +
				"\nРазделы: профессиональные таланты, подходящие сферы, денежные блоки, стратегия роста дохода."),
		}}, nil

	case models.ProductCompatibility:
		if u.Partner.Name == "" || !u.Partner.Profile.Complete() {
			return nil, ErrNoPartner
		}
		partner := describe(u.Partner.Name, u.Partner.Profile)
		return [][]Message{{
			System(astrologerRole),
			User("Сделай разбор совместимости двух людей.\nПервый человек:\n" + person +
				"\nВторой человек:\n" + partner +
				"\nРазделы: что вас связывает, сильные стороны пары, зоны конфликтов, советы."),
		}}, nil
	}

	return nil, fmt.Errorf("no prompt for product %q", kind)
}

func describe(name string, p models.Profile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Имя: %s\n", name)
	fmt.Fprintf(&b, "Дата рождения: %s\n", p.BirthDate.Format("02.01.2006"))
	if p.BirthTime != "" {
		fmt.Fprintf(&b, "Время рождения: %s\n", p.BirthTime)
	} else {
		b.WriteString("Время рождения: неизвестно\n")
	}
	if p.BirthCity != "" || p.BirthCountry != "" {
		fmt.Fprintf(&b, "Место рождения: %s\n", strings.Trim(p.BirthCountry+", "+p.BirthCity, ", "))
	}
	return b.String()
}

func displayName(name string) string {
	if strings.TrimSpace(name) == "" {
		return "Друг"
	}
	return name
}
