package fsm

// Question is one diagnostic step shown to the user with its suggestion chips.
type Question struct {
	Key     string
	Title   string
	Text    string
	Options []string
}

// The diagnostic question bank. Texts are Russian-first like the rest of the
// product; the remote orchestrator carries its own localized copies.
var diagnosticQuestions = [NumDiagnosticSteps]Question{
	{
		Key:     "step_1",
		Title:   "Цель",
		Text:    "Какая у вас основная цель?",
		Options: []string{"Получить кредит", "Рефинансировать долги", "Выйти из долгов", "Улучшить кредитную историю"},
	},
	{
		Key:     "step_2",
		Title:   "Кредиты",
		Text:    "Есть ли у вас действующие кредиты?",
		Options: []string{"Да, есть", "Нет"},
	},
	{
		Key:     "step_3",
		Title:   "Просрочки",
		Text:    "Есть ли просроченные платежи?",
		Options: []string{"Нет", "До 30 дней", "30-90 дней", "90+ дней"},
	},
	{
		Key:     "step_4",
		Title:   "Доход",
		Text:    "Ваш ежемесячный доход?",
		Options: []string{"до 50к", "50-100к", "100-200к", "200к+"},
	},
	{
		Key:     "step_5",
		Title:   "Платёж",
		Text:    "Текущий ежемесячный платёж по долгам?",
		Options: []string{"Нет платежей", "до 10к", "10-30к", "30-50к", "50к+"},
	},
	{
		Key:     "step_6",
		Title:   "Кредитная история",
		Text:    "Как вы оцениваете свою кредитную историю?",
		Options: []string{"Хорошая", "Средняя", "Плохая", "Не знаю"},
	},
	{
		Key:     "step_7",
		Title:   "Срок",
		Text:    "Как быстро вам нужно решение?",
		Options: []string{"Срочно", "В течение недели", "В течение месяца", "Не срочно"},
	},
}

// QuestionForStep returns the diagnostic question for a 1-based step number.
func QuestionForStep(step int) (Question, bool) {
	if step < 1 || step > NumDiagnosticSteps {
		return Question{}, false
	}
	return diagnosticQuestions[step-1], true
}

// Fixed conversational texts. Wording is allowed to differ from the remote
// orchestrator's copies; states and triggers must not.
const (
	GreetingText = "Здравствуйте! Я ваш советник по кредитам и долгам. Помогу разобраться " +
		"в вашей финансовой ситуации и найти пути решения. Напишите что-нибудь, чтобы начать."

	ConsentRequestText = "Прежде чем продолжить, мне нужно ваше согласие на обработку данных " +
		"о вашей финансовой ситуации. Данные используются только для подготовки рекомендаций. Вы согласны?"

	ConsentRepromptText = "Без согласия на обработку данных я не смогу провести диагностику. " +
		"Если передумаете — напишите мне, и мы начнём заново."

	JurisdictionRequestText = "Спасибо! В какой стране или регионе вы находитесь? " +
		"Мои рекомендации сильно зависят от местного финансового законодательства."

	RefusalText = "Я не могу помочь с этим запросом. Я даю только законные рекомендации " +
		"по кредитам и долгам и не участвую в обходе правил или проверок."

	GenericSummaryText = "Диагностика завершена. По вашим ответам видно, что ситуация требует " +
		"внимательного подхода. Рекомендую обсудить детали в чате — я помогу подобрать варианты."
)

// Affirmative vocabulary for the CONSENT transition. Matching is
// case-insensitive substring containment.
var consentAffirmatives = []string{
	"да", "согласен", "согласна", "соглас", "ок", "хорошо",
	"yes", "agree", "ok", "sure",
}
