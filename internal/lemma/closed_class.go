package lemma

var englishClosedClass = map[PartOfSpeech][]string{
	Article: {"a", "an", "the"},
	Preposition: {
		"about", "above", "across", "after", "against", "along", "among", "around", "at",
		"before", "behind", "below", "beneath", "beside", "between", "beyond", "by",
		"down", "during", "except", "for", "from", "in", "inside", "into", "near", "of",
		"off", "on", "onto", "out", "outside", "over", "past", "since", "through",
		"throughout", "till", "to", "toward", "towards", "under", "underneath", "until",
		"up", "upon", "via", "with", "within", "without",
	},
	Conjunction: {
		"and", "as", "although", "because", "but", "if", "nor", "once", "or", "so",
		"than", "that", "though", "unless", "whereas", "whether", "while", "yet",
	},
	Particle: {"not", "no", "yes", "to", "up"},
	Pronoun: {
		"i", "me", "my", "mine", "myself", "you", "your", "yours", "yourself", "yourselves",
		"he", "him", "his", "himself", "she", "her", "hers", "herself", "it", "its", "itself",
		"we", "us", "our", "ours", "ourselves", "they", "them", "their", "theirs", "themselves",
		"who", "whom", "whose", "which", "what", "that", "this", "these", "those",
		"whoever", "whatever", "someone", "anyone", "everyone", "nobody",
		"something", "anything", "everything", "nothing",
	},
	Interjection: {"ah", "alas", "hey", "hmm", "oh", "oops", "ouch", "uh", "um", "wow"},
}

var russianClosedClass = map[PartOfSpeech][]string{
	Preposition: {
		"в", "во", "на", "с", "со", "к", "ко", "по", "из", "у", "о", "об", "от", "до", "за",
		"над", "под", "при", "про", "без", "для", "через", "между", "перед", "около",
	},
	Conjunction: {
		"и", "а", "но", "или", "да", "что", "чтобы", "если", "когда", "как", "также",
		"тоже", "либо", "ни", "зато", "однако", "потому", "поэтому", "хотя",
	},
	Particle: {
		"не", "ни", "же", "ли", "бы", "вот", "лишь", "только", "уже", "еще", "ещё",
		"даже", "разве", "неужели",
	},
	Pronoun: {
		"я", "ты", "он", "она", "оно", "мы", "вы", "они", "меня", "тебя", "его", "её", "ее",
		"нас", "вас", "их", "мне", "тебе", "ему", "ей", "нам", "вам", "им", "себя",
		"свой", "своя", "своё", "свои", "мой", "моя", "моё", "мои", "твой", "твоя",
		"наш", "ваш", "этот", "эта", "это", "эти", "тот", "та", "то", "те",
		"кто", "который", "которая", "которое", "которые", "весь", "вся", "всё", "все",
	},
	Interjection: {"ах", "ох", "эх", "ой", "ну", "увы", "ура"},
}
