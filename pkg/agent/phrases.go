package agent

// Progress phrases streamed while the agent works.
var (
	ThinkingProcess = []string{
		"Okay, I'm mapping out your request to determine the best steps to find your answer... ✍️",
		"Okay, I'm deconstructing your request to identify the key objectives and map out the best approach... 🗺️",
		"Got it. I'm now creating a step-by-step plan to tackle your question thoroughly and efficiently... ✍️",
		"First, I'm building a blueprint for your answer by analyzing the core components of your request... 🧭",
		"Right, I'm carefully outlining the path to a comprehensive answer based on your query... 🤔",
		"Processing your query to fully grasp its core intent... 🤔",
		"Alright, I'm interpreting your request to build an effective search strategy... 🗺️",
		"Understood. I'm now structuring the problem to ensure all parts are addressed. ✍️",
		"Charting a course to find the most accurate information for you... 🧭",
		"First things first, I'm calibrating my approach based on your specific needs... ⚙️",
	}

	RAGProcess = []string{
		"Now accessing my internal knowledge base to gather foundational data. 📂",
		"I'm searching my private archives to locate key reports and insights. 📑",
		"Consulting my internal records to pull the most relevant information. 📈",
		"Now performing a deep search within my secure data to extract specific details. 🔍",
		"Beginning the search by querying my internal knowledge base for initial findings. 📄",
		"Now retrieving key information from my internal archives... 📑",
		"Accessing our secure data repository to find relevant entries... 📂",
		"Reviewing internal documents to establish a baseline of facts... 📄",
		"Querying my dedicated knowledge base for specific data points... 📈",
		"Now sifting through internal records to find the most relevant insights... 🔍",
	}

	WebSearchProcess = []string{
		"Now expanding the search to include the latest information from the web. 🌍",
		"Gathering current events and public data from web sources. 📰",
		"I'm now querying the web for the most up-to-date context and real-time data. 📡",
		"Searching public sources to incorporate the most recent findings. 🌐",
		"Now scanning the web for timely and relevant public information. 📈",
		"Accessing real-time data from the web to ensure the context is current... 📡",
		"Now gathering information on recent events from public web sources... 📰",
		"Referencing external sources to provide the most comprehensive view... 🌍",
		"Now querying the web to include the latest public findings and trends... 📈",
		"Scanning public information to incorporate the most up-to-date details... 🌐",
	}
)

// Phrases groups the progress phrases a ToolCaller streams.
type Phrases struct {
	Thinking  []string
	RAG       []string
	WebSearch []string
}

// DefaultPhrases returns the built-in progress phrases.
func DefaultPhrases() Phrases {
	return Phrases{Thinking: ThinkingProcess, RAG: RAGProcess, WebSearch: WebSearchProcess}
}
