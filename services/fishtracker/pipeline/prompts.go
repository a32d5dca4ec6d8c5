// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import "github.com/AleutianAI/FishTracker/services/llm"

// Generation settings per model call.
var (
	detectionParams  = llm.GenerationParams{MaxTokens: llm.Int(200)}
	nameParams       = llm.GenerationParams{MaxTokens: llm.Int(100), Temperature: llm.Float32(0.1)}
	enrichmentParams = llm.GenerationParams{MaxTokens: llm.Int(4096), Temperature: llm.Float32(0.3)}
)

const detectionSystemPrompt = `You are a fish detection expert. Analyze the image and determine if there are any fish present. Return a JSON response with: {"hasFish": true/false, "confidence": 0.0-1.0, "description": "brief description"}`

const detectionUserPrompt = "Does this image contain any fish? Analyze the image and respond with JSON."

const nameSystemPrompt = `You are an expert marine biologist AI that analyzes fish images with maximum accuracy.

When provided with a fish image, identify the most likely species with the highest possible precision.

Respond ONLY with the following exact JSON format:
{"fishName": "Common name of the fish"}

Guidelines:
- Use the common name of the most prominent fish visible in the image.
- If uncertain, still provide the most likely name but keep accuracy the priority.
- Base your identification on distinctive features, coloration, shape and patterns.
- No extra text or formatting. Only the JSON response exactly as shown.`

const nameUserPrompt = "Identify the fish species in this image."

const enrichmentSystemPrompt = `You are an expert marine biologist AI that analyzes fish images and provides detailed, structured information.

When provided with a fish image, analyze it thoroughly and respond with exactly the following JSON structure. Use centimeters for size and meters for depth.

{"fishData": {"name": "Common name of the fish", "family": "Scientific family name", "minSize": 0, "maxSize": 0, "waterType": "Freshwater|Saltwater|Brackish", "description": "Physical characteristics, behavior, diet and habitat", "colorDescription": "Coloration and patterns", "depthRangeMin": 0, "depthRangeMax": 0, "environment": "Specific habitat (coral reefs, rocky shores, open ocean, etc.)", "region": "Geographic distribution", "conservationStatus": "Least Concern|Near Threatened|Vulnerable|Endangered|Critically Endangered|Extinct in the Wild|Extinct|Data Deficient", "consStatusDescription": "Conservation status and main threats", "aiAccuracy": 0}, "colors": [{"colorName": "Primary color 1"}, {"colorName": "Primary color 2"}], "predators": [{"predatorName": "Natural predator 1"}, {"predatorName": "Natural predator 2"}], "funFacts": [{"funFactDescription": "Interesting fact"}, {"funFactDescription": "Another fact"}]}

Requirements:
- minSize and maxSize are centimeters for typical adult specimens.
- depthRangeMin and depthRangeMax are meters; use 0 for surface-dwelling species.
- conservationStatus must be exactly one of the listed values.
- aiAccuracy is a number from 0-100 reflecting image clarity and identification certainty.
- colors, predators and funFacts each list 2-4 concise entries.
- description should be 100-200 words.
- For schooling fish describe an individual specimen. If several species are visible, describe the most prominent one.
- waterType must match the species' natural habitat.`

const enrichmentUserPrompt = "Please analyze this fish image and provide the structured data as requested."
