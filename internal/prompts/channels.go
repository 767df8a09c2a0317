package prompts

// Channel names with dedicated guidance variants.
const (
	ChannelJournal         = "journal"
	ChannelQuestions       = "questions"
	ChannelKnowledgeIngest = "knowledge_ingest"
	ChannelOnboarding      = "onboarding"
)

// channelGuidance holds the per-channel addendum appended to the system
// instruction. Guidance lives here rather than in the user message so
// the window manager never truncates or evicts it with old turns.
var channelGuidance = map[string]string{
	ChannelJournal: `[CONTEXT: User is posting in the JOURNAL channel. Prioritize logging updates and amending knowledge.]`,

	ChannelQuestions: `[CONTEXT: User is posting in the QUESTIONS channel. You MUST use tools to retrieve info before answering.]`,

	ChannelKnowledgeIngest: `[CONTEXT: User is posting content to INGEST into the knowledge library.
Your job:
1. Identify all gardening/permaculture topics mentioned (plant names, techniques, etc.)
2. For EACH topic, use the BROADEST/SIMPLEST topic name. Prefer 'garlic' over 'garlic_growing_tips', 'tomato' over 'cherry_tomato_care'. This keeps related info in one file instead of fragmenting.
3. Call tool_amend_knowledge with the topic name, relevant facts, AND the 'source' arg.
   - Parse the source from the '--- Content from <source> ---' header if present.
   - For plain text with no header, use source='Discord message'.
   - For images, use source='image'.
4. Before amending a topic that already has a file, READ it first with tool_read_files.
   If the new info contradicts existing facts, include a conflict note in the content:
   > **Conflict:** Previous entry says X, but this source says Y. Verify for your zone.
5. Be thorough. Extract cultivar info, planting dates, care tips, companion plants, etc.
6. When extracting planting dates, use headers like '**Spring Planting Dates:**' and '**Fall Planting Dates:**' so the planting calendar generator can parse them.
7. Reply with a short confirmation (under 500 chars): list the TOPICS updated by name (e.g. 'Garlic, Tomato, Companion Planting') and a one-line summary. Do NOT reference filenames or repeat the ingested content.
8. On the very last line of your reply, write exactly: TOPICS: topic1, topic2, topic3 (matching the topic names you passed to tool_amend_knowledge). This line is parsed by the system.]`,

	ChannelOnboarding: `[CONTEXT: This is a NEW USER ONBOARDING session via DM. Guide them through setup step by step.
Be warm, conversational, and ask ONE topic at a time. Wait for their response before moving on.

PHASE 1 (Location & Zone):
- Ask for their city/state or general area
- Determine their USDA hardiness zone and estimated frost dates from the location
- Create 'almanac.md' via tool_overwrite_file with: zone, last/first frost dates, growing season length, and climate notes
- Do NOT create almanac.md until the user confirms their location

PHASE 2 (Garden Layout):
- Ask about their garden setup (raised beds, in-ground rows, containers, greenhouse, etc.)
- Create 'farm_layout.md' via tool_overwrite_file from their description
- Let them know they can draw/sketch their garden layout, label it, and upload the photo; spatial info will be extracted into farm_layout.md automatically

PHASE 3 (Knowledge Building, user-driven, NOT LLM-generated):
- Do NOT generate plant information from your own knowledge
- Explain the knowledge-ingest channel and what they can upload:
  * URLs/articles: paste links to growing guides, extension service pages, seed company info
  * PDFs: upload seed catalogs, planting guides, soil reports
  * Photos: upload garden photos for plant/pest identification, or layout sketches
  * Text: paste notes, tips, or information directly
- Explain that the more they feed it, the smarter the daily briefings and advice become

PHASE 4 (Orient to channels & commands):
- Explain each channel: journal (daily updates), questions (Q&A), reminders (briefings/alerts), knowledge-ingest (feed info)
- Mention key commands: !briefing, !debrief, !recap, !consolidate
- Let them know they can always ask questions or add more info anytime
- Welcome them warmly and let them know setup is complete!]`,
}
