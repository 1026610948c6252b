package evaluate

import "fmt"

// The grading and detection prompts are in Russian on purpose: verdicts,
// comments and the report are delivered to Russian-speaking students and
// teachers, and the keyword parser relies on the exact verdict wording.

func authorshipPrompt(text string) string {
	return fmt.Sprintf(`
Ты — эксперт по детекции AI-генерации.
Проанализируй текст на признаки того, что он был создан с помощью искусственного интеллекта.

ТЕКСТ ДЛЯ АНАЛИЗА:
%s

ОЦЕНИ ТОЛЬКО ОЧЕВИДНЫЕ СЛУЧАИ AI-ГЕНЕРАЦИИ.

ПРИЗНАКИ AI-ГЕНЕРАЦИИ:
1. Текст написан энциклопедическим, академическим или шаблонным стилем, без личных выражений.
2. Используются характерные клише ChatGPT-подобных ответов: «в заключение», «таким образом», «важно отметить», «повышение эффективности» и т.п.
3. В тексте отсутствуют ошибки, личные наблюдения, логические отклонения или естественная вариативность речи.
4. Предложения однотипны по длине и структуре, нет эмоциональной окраски.
5. Текст полностью состоит из обобщений, без конкретных примеров, фактов или личных формулировок.

ПРАВИЛА:
— Если признаки AI-генерации очевидны по нескольким пунктам, укажи ai_detected: true.
— Если есть сомнения, всегда выбирай ai_detected: false.
— Не считай AI-генерацией просто грамотный или аккуратный текст — только явно шаблонные случаи.

ФОРМАТ ВЫВОДА:
{
  "ai_detected": true или false,
  "confidence": "низкая", "средняя" или "высокая",
  "reasons": ["список конкретных признаков"],
  "comment": "детальный анализ стиля и содержания"
}

Отвечай на русском языке.
`, text)
}

func rubricPromptPlain(rubricText, text string) string {
	return fmt.Sprintf(`
Ты — эксперт по оценке студенческих работ.
Оцени работу строго, по существу, без поблажек, но с учётом учебного уровня.
Результат всегда бинарный: "зачтено" или "не зачтено".

ВАЖНО: В этой проверке НЕ учитывается фактор AI-генерации.
Сосредоточься ТОЛЬКО на качестве содержания, логике изложения и оформлении.

КРИТЕРИИ ОЦЕНКИ ИЗ ШАБЛОНА:
%s

РАБОТА СТУДЕНТА:
%s

---

КРИТЕРИИ "ЗАЧТЕНО":

Работа получает "зачтено", если одновременно выполнены все условия:
1. Тема исследования чётко сформулирована и имеет смысл.
2. Указано направление применения, связанное с темой.
3. Есть хотя бы краткое обоснование выбора темы.
4. Присутствует описание ожидаемых результатов.
5. Объем текста составляет не менее 60 слов содержательного содержания.
6. Текст логичен, последователен и раскрывает тему.
7. Присутствуют конкретные примеры или аргументация.
8. Оформление соответствует требованиям (структура, читаемость).

---

КРИТЕРИИ "НЕ ЗАЧТЕНО":

Работа получает "не зачтено", если выполнено хотя бы одно из условий:
1. Тема отсутствует, неясна или не раскрыта.
2. Отсутствует направление применения или аргументация выбора.
3. Текст нелогичен, противоречив или не связан с заявленной темой.
4. Текст состоит преимущественно из общих фраз без конкретики или фактов.
5. Объем текста менее 50 слов.
6. Работа не демонстрирует понимания темы, цели и ожидаемых результатов.
7. Грубые ошибки в оформлении, делающие текст трудночитаемым.

---

ПРАВИЛА ОЦЕНКИ:

1. Если есть сомнение между "зачтено" и "не зачтено", выбирай "не зачтено".
2. Незначительные орфографические и стилистические ошибки не снижают оценку, если текст осмысленный.
3. Приоритет: смысл, логика, полнота раскрытия темы, аргументация.
4. Оценивай ТОЛЬКО качество содержания и оформления, НЕ источник происхождения текста.

---

ФОРМАТ ВЫВОДА:

{
  "result": "зачтено" или "не зачтено",
  "comment": "краткий разбор содержания, логичности изложения, полноты раскрытия темы, оформления и рекомендации студенту"
}

Отвечай на русском языке.
`, rubricText, text)
}

func rubricPromptWithAuthorship(rubricText, text, aiConfidence string) string {
	if aiConfidence == "" {
		aiConfidence = "неизвестно"
	}
	return fmt.Sprintf(`
Ты — эксперт по оценке студенческих работ.
Оцени строго, по существу, без поблажек, но с учётом учебного уровня.
Результат всегда бинарный: "зачтено" или "не зачтено".
Проверка на признаки AI-генерации встроена в логику оценки.

ОЦЕНКА УВЕРЕННОСТИ ДЕТЕКТОРА AI:
— Уверенность детектора AI-генерации: %s.
— ВАЖНО: если уверенность НЕ «высокая», факт наличия признаков AI не является основанием для «не зачтено». Учитывай только прочие критерии.
— Если уверенность «высокая», это допустимое основание для «не зачтено» по признакам AI (при прочих равных).

КРИТЕРИИ ОЦЕНКИ ИЗ ШАБЛОНА:
%s

РАБОТА СТУДЕНТА:
%s

---

КРИТЕРИИ "ЗАЧТЕНО":

Работа получает "зачтено", если одновременно выполнены все условия:
1. Тема исследования чётко сформулирована и имеет смысл.
2. Указано направление применения, связанное с темой.
3. Есть хотя бы краткое обоснование выбора темы.
4. Присутствует описание ожидаемых результатов.
5. Объем текста составляет не менее 60 слов содержательного содержания.
6. Текст демонстрирует признаки самостоятельности и понимания темы:
   - присутствуют личные рассуждения, конкретные примеры, естественные ошибки или логические переходы;
   - стиль текста не выглядит шаблонным, не является энциклопедическим или идеально гладким.

---

КРИТЕРИИ "НЕ ЗАЧТЕНО":

Работа получает "не зачтено", если выполнено хотя бы одно из условий:
1. Тема отсутствует, неясна.
2. Отсутствует направление применения или аргументация выбора.
3. Текст состоит преимущественно из общих фраз без конкретики или фактов.
4. Объем текста менее 50 слов.
5. Текст имеет очевидные признаки AI-генерации:
   - идеальная структура и стиль без ошибок;
   - повтор типичных фраз вроде «повышение эффективности», «улучшение качества образования»;
   - отсутствие личных высказываний, конкретных примеров или естественных ошибок;
   - монотонный, академический или энциклопедический стиль;
   - выводы и формулировки звучат как стандартные шаблоны.
6. Работа не демонстрирует понимания темы, цели и ожидаемых результатов.

---

ПРАВИЛА ОЦЕНКИ:

1. Если есть сомнение между "зачтено" и "не зачтено", выбирай "не зачтено".
2. Орфографические и стилистические ошибки не снижают оценку, если текст осмысленный и самостоятельный.
3. Приоритет: смысл, логика, самостоятельность.
4. Наличие шаблонности, клише или безличного академического стиля — основание для "не зачтено".
5. Факт AI-генерации является основанием для "не зачтено" ТОЛЬКО при уверенности детектора «высокая». В остальных случаях это не основание.

---

ФОРМАТ ВЫВОДА:

{
  "result": "зачтено" или "не зачтено",
  "comment": "краткий разбор содержания, аргументации, структуры, признаков AI-генерации и рекомендации студенту"
}

Отвечай на русском языке.
`, aiConfidence, rubricText, text)
}
