package mcpserver

// ScoringGuide explains the rating scale and how scores roll up, so LLM
// consumers rate aspects consistently with the web UI.
const ScoringGuide = `# MITA Maturity Scoring Guide

Each capability area is assessed across five dimensions. Every dimension is
broken into aspects, and each aspect gets one rating.

## Rating scale

| Level | Meaning |
|-------|---------|
| 1..5  | Maturity level, 1 lowest and 5 highest |
| 0     | Not yet rated |
| -1    | Not applicable |

Not applicable counts towards completion but is never averaged.

## Roll-up

1. A dimension score is the mean of its rated aspects (levels 1..5),
   rounded half-up to one decimal.
2. The technology dimension is split into sub-dimensions. Each
   sub-dimension is averaged and rounded first, and the dimension score
   is the mean of those rounded values.
3. The overall area score is the mean of the rounded dimension scores
   that have a value.
4. A domain score is the mean of the overall scores of its finalized
   areas. In-progress work does not count.

## Workflow

1. Call get_catalog to find area and aspect ids.
2. Call save_rating once per aspect. Editing a finalized area moves it
   back to in progress.
3. Call finalize when the area is done. The ratings are frozen into a
   history snapshot; finalizing twice without changes adds nothing.
`
