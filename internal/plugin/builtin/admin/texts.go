package admin

const (
	menuText = "Добро пожаловать в меню администратора!"

	btnMailing = "Выполнить рассылку"
	btnExport  = "Выгрузить юзеров"
	btnLink    = "Заменить ссылку"
	btnStats   = "Статистика"
	btnBack    = "↩️ Назад"
	btnYes     = "Да"
	btnNo      = "Нет"

	payloadPrompt = "Сейчас мы подготовим сообщение для рассылки по юзерам!\n" +
		"Отправьте пжл текстовое сообщение или картинку(можно с текстом) или видео(можно с текстом) или видео-кружок"
	buttonChoicePrompt = "Добавим кнопку-ссылку?"
	buttonTextPrompt   = "Введите текст кнопки-ссылки"
	buttonURLPrompt    = "Теперь введите корректный url(ссылка на сайт, телеграмм)"
	invalidURLText     = "Скорее всего вы ввели не корректный url. Направьте корректный url"
	previewHeader      = "Проверьте ваше сообщение для отправки"
	confirmPrompt      = "Отправляем?"
	sentText           = "Сообщение отправлено %d юзерам"
	notSentText        = "Сообщение не отправлено"
	runFailedText      = "❌ Рассылка не выполнена: %v"

	linkPrompt      = "Сейчас ваша ссылка - %s. Введите новую ссылку!"
	linkChangedText = "Ссылка изменена!"
	linkInvalidText = "Пожалуйста, введите корректную ссылку (начинается с http://, https:// или t.me/)"

	exportCaption = "Выгрузка данных о подписках"

	cancelledText = "Действие отменено"
	nothingText   = "Нечего отменять"
)
