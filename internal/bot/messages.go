package bot

const (
	msgWelcome = "Привет! Я АстроКотский — твой личный проводник по звёздам 🐾\n" +
		"Я не просто кот, я чёрный как сама космическая ночь, а ещё умею читать натальные карты.\n\n" +
		"По твоей натальной карте помогу понять:\n" +
		"– в чём твоя уникальность,\n" +
		"– как реализовать себя,\n" +
		"– и что мешает двигаться вперёд."
	msgPressReady = "Чтобы всё это рассчитать, мне нужно знать, когда, где и во сколько ты родилась ✨\n" +
		"Готова? 👇"
	msgAskDate = "1/3 — Введи дату рождения в формате ДД.ММ.ГГГГ (например, 02.03.1998)."
	msgBadDate = "Хвостом чую, что-то не так с датой. Напиши, пожалуйста, в формате ДД.ММ.ГГГГ (например, 02.03.1998)."
	msgAskTime = "2/3 — А теперь время рождения в формате ЧЧ:ММ.\n" +
		"Для кота-астролога разница между «утром» и «ночью» огромна!"
	msgBadTime      = "Что-то не так с форматом. Напиши время рождения как 03:00."
	msgAskLocation  = "3/3 — Напиши страну и город рождения (например: Латвия, Рига)."
	msgBadLocation  = "Формат: Страна, Город. Пример: Латвия, Рига"
	msgProfileSaved = "Ловлю твои данные усами! Мяу, карта интересная.\n\n" +
		"Выбирай в меню, что звёзды расскажут тебе в первую очередь 👇"

	msgAskPartnerName     = "Как зовут второго человека?"
	msgBadPartnerName     = "Напиши имя партнёра обычным текстом, до 64 символов."
	msgAskPartnerDate     = "Дата рождения партнёра в формате ДД.ММ.ГГГГ:"
	msgAskPartnerTime     = "Время рождения партнёра в формате ЧЧ:ММ:"
	msgAskPartnerLocation = "Страна и город рождения партнёра (например: Латвия, Рига):"
	msgPartnerSaved       = "Данные партнёра сохранены 💞"

	msgMainMenu  = "Главное меню 🐾 Выбери отчёт:"
	msgUseMenu   = "Выбери отчёт в меню ниже 👇"
	msgNeedStart = "Пожалуйста, используй /start для начала работы с ботом."
	msgNoProfile = "Не найден профиль. Пройди /start."
	msgCancel    = "Окей, если что — /start"
	msgHelp      = "Я кот-астролог: составляю карту предназначения, годовой путь, разбор дохода и совместимости.\n" +
		"/start — заполнить данные рождения\n/menu — выбрать отчёт"
	msgUnknownCommand = "Неизвестная команда. Используй /menu или /start."

	msgGetButton     = "✨ Получить «%s»"
	msgPartnerButton = "✏️ Данные партнёра"
	msgPayButton     = "💳 Оплатить в Stripe"
	msgPayLink       = "Чтобы увидеть «%s», поддержи кота-астролога парой монет на консерву! Ссылка для оплаты ниже 👇"
	msgAfterPay      = "⚡️ После оплаты возвращайся в этот чат — PDF будет отправлен автоматически!\n" +
		"Обычно обработка занимает пару минут."
	msgPaidThanks     = "Спасибо за оплату! Как только платёж подтвердится, пришлю отчёт прямо сюда 🐾"
	msgRequestQueued  = "Мяу! Готовлю «%s», пришлю сюда через пару минут."
	msgCheckoutFailed = "Не получилось создать ссылку на оплату. Попробуй, пожалуйста, чуть позже."
	msgBusy           = "Сейчас очень много заявок. Нажми кнопку ещё раз через минуту."
	msgSaveFailed     = "Извини, не получилось сохранить данные. Попробуй, пожалуйста, позже."
)
